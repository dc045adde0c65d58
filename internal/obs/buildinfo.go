package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set by -ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

// RegisterBuildInfo registers docgate_build_info{version,commit} = 1 on reg.
func RegisterBuildInfo(reg prometheus.Registerer, version, commit string) error {
	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docgate_build_info",
			Help: "docgate build information.",
		},
		[]string{"version", "commit"},
	)
	if err := reg.Register(buildInfo); err != nil {
		return err
	}
	buildInfo.WithLabelValues(version, commit).Set(1)
	return nil
}
