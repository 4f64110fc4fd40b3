package call

import (
	"encoding/json"
	"testing"
)

func TestExitCodesDistinctPerCategory(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindTool, ExitTool},
		{KindUnknownCommand, ExitUsage},
		{KindMissingArgument, ExitUsage},
		{KindUnknownArgument, ExitUsage},
		{KindMalformedArgument, ExitUsage},
		{KindConfig, ExitConfig},
		{KindNetwork, ExitNetwork},
		{KindTimeout, ExitTimeout},
		{KindServer, ExitServer},
		{KindProtocol, ExitProtocol},
		{KindMalformedResponse, ExitProtocol},
		{KindSessionConflict, ExitSession},
		{KindNoSession, ExitSession},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.ExitCode(); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
			if tt.kind.ExitCode() == ExitOK {
				t.Error("failure kind must not map to exit code 0")
			}
		})
	}
}

func TestWithDetailDropsInvalidJSON(t *testing.T) {
	err := Errorf(KindServer, "HTTP %d", 500).WithDetail([]byte("<html>oops</html>"))
	if err.Detail != nil {
		t.Errorf("Expected nil detail for non-JSON body, got %s", err.Detail)
	}

	err = Errorf(KindServer, "HTTP %d", 500).WithDetail([]byte(`{"detail":"boom"}`))
	if string(err.Detail) != `{"detail":"boom"}` {
		t.Errorf("Expected detail to be kept, got %s", err.Detail)
	}
}

func TestResult(t *testing.T) {
	ok := Success(json.RawMessage(`[]`))
	if !ok.OK() || ok.ExitCode() != 0 {
		t.Errorf("Expected success with exit 0, got ok=%v exit=%d", ok.OK(), ok.ExitCode())
	}

	failed := Failure(Errorf(KindTimeout, "deadline exceeded"))
	if failed.OK() {
		t.Error("Expected failure result")
	}
	if failed.ExitCode() != ExitTimeout {
		t.Errorf("Expected exit %d, got %d", ExitTimeout, failed.ExitCode())
	}
}

func TestInvocationAccessors(t *testing.T) {
	inv := Invocation{
		Arguments: map[string]any{"name": "BlueLake"},
		Local:     map[string]any{"ttl": 120, "force": true, "agent": "RedStone"},
	}

	if got := inv.LocalInt("ttl", 300); got != 120 {
		t.Errorf("LocalInt(ttl) = %d, want 120", got)
	}
	if got := inv.LocalInt("missing", 300); got != 300 {
		t.Errorf("LocalInt(missing) = %d, want 300", got)
	}
	if !inv.LocalBool("force") {
		t.Error("LocalBool(force) = false, want true")
	}
	if got := inv.String("name"); got != "BlueLake" {
		t.Errorf("String(name) = %q", got)
	}
	if got := inv.String("agent"); got != "RedStone" {
		t.Errorf("String(agent) = %q", got)
	}
}
