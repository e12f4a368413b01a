package validate

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

var serviceNameRE = regexp.MustCompile(`^[A-Za-z0-9@:._\-]{1,255}$`)

// ServiceName reports whether name is a plausible systemd unit name.
func ServiceName(name string) bool {
	return serviceNameRE.MatchString(name)
}

// Port reports whether p is a usable TCP port.
func Port(p int) bool {
	return p >= 1 && p <= 65535
}

// HealthEndpoint reports whether ep is empty (no health check) or an
// absolute URL path.
func HealthEndpoint(ep string) bool {
	return ep == "" || strings.HasPrefix(ep, "/")
}

// BaseURL reports whether raw is an absolute http or https URL with a
// host.
func BaseURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// CronSchedule reports whether spec parses as a cron schedule,
// including the @every and @hourly style descriptors.
func CronSchedule(spec string) bool {
	_, err := cron.ParseStandard(spec)
	return err == nil
}
