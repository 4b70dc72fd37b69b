package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
)

// AppName is reported by /version.
const AppName = "pacer"

// Build identifies the running binary. main fills it via SetVersionInfo.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

var (
	build        = Build{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
	processStart = time.Now()
)

func SetVersionInfo(version, commit, buildDate string) {
	build = Build{Version: version, Commit: commit, BuildDate: buildDate}
}

// BuildVersion returns the version string main injected.
func BuildVersion() string {
	return build.Version
}

// VersionResponse is the /version body.
type VersionResponse struct {
	Name string `json:"name"`
	Build
	GoVersion    string            `json:"go_version"`
	Platform     string            `json:"platform"`
	Dependencies map[string]string `json:"dependencies"`
	Process      ProcessInfo       `json:"process"`
}

type ProcessInfo struct {
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	NumCPU        int       `json:"num_cpu"`
	Goroutines    int       `json:"goroutines"`
}

// CurrentVersion is shared by /version and `pacer version --extended`.
func CurrentVersion() VersionResponse {
	deps := crucible.GetVersion()
	return VersionResponse{
		Name:      AppName,
		Build:     build,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Dependencies: map[string]string{
			"gofulmen": deps.Gofulmen,
			"crucible": deps.Crucible,
		},
		Process: ProcessInfo{
			StartedAt:     processStart.UTC(),
			UptimeSeconds: int64(time.Since(processStart).Seconds()),
			NumCPU:        runtime.NumCPU(),
			Goroutines:    runtime.NumGoroutine(),
		},
	}
}

func VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CurrentVersion())
}
