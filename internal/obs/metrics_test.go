package obs

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/v1/agencies":                       "/v1/agencies",
		"/v1/agencies/agc_123":               "/v1/agencies/:id",
		"/v1/agencies/agc_123/modules":       "/v1/agencies/:id/modules",
		"/v1/agencies/agc_123/users?limit=5": "/v1/agencies/:id/users",
		"/v1/agencies/agc_123/extra":         OtherPath,
		"/v1/users/usr_1/permissions":        "/v1/users/:id/permissions",
		"/v1/me/access":                      "/v1/me/access",
		"/healthz":                           "/healthz",
		"/wp-login.php":                      OtherPath,
		"/v1/flights/abc":                    OtherPath,
		"/v1/random-8f2c":                    OtherPath,
		"/v1/users/usr_1/status/x":           OtherPath,
		"/v1/agencies//status":               OtherPath,
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestCanonicalPathBoundsRandomPaths(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		seen[CanonicalPath(fmt.Sprintf("/scan/%d/%x", i, i*7919))] = true
		seen[CanonicalPath(fmt.Sprintf("/v1/x%d", i))] = true
	}
	if len(seen) != 1 || !seen[OtherPath] {
		t.Fatalf("unknown paths produced %d labels: %v", len(seen), seen)
	}
}

func TestInitBuildInfo(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(buildInfo)

	InitBuildInfo("1.2.3", "abc")
	InitBuildInfo("1.2.4", "def")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 1 || len(families[0].GetMetric()) != 1 {
		t.Fatalf("expected a single build_info series, got %v", families)
	}
	m := families[0].GetMetric()[0]
	labels := map[string]string{}
	for _, lp := range m.GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	if labels["version"] != "1.2.4" || labels["commit"] != "def" || labels["go_version"] != runtime.Version() {
		t.Fatalf("unexpected labels: %v", labels)
	}
	if m.GetGauge().GetValue() != 1 {
		t.Fatalf("build_info = %v, want 1", m.GetGauge().GetValue())
	}
}
