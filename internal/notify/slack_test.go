package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sentinel/internal/orchestrate"
	"sentinel/internal/types"
)

func captureServer(t *testing.T, status int) (*httptest.Server, *[]string) {
	t.Helper()
	var texts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(body, &payload))
		texts = append(texts, payload["text"])
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &texts
}

func testRun() *types.Run {
	return &types.Run{
		ID: "run-1", TargetURL: "https://demo.test",
		DeviceID: "pixel-7", NetworkID: "slow-3g", Persona: "power_user",
	}
}

func TestNotifyRealtimeIssue(t *testing.T) {
	srv, texts := captureServer(t, http.StatusOK)
	s := NewSlack(srv.URL, nil, zap.NewNop())

	err := s.NotifyRealtimeIssue(context.Background(), testRun(), orchestrate.RealtimeIssue{
		Title: "Cart crashes", Severity: "P0", Description: "500 on add", Category: "functional",
	}, []string{"/evidence/run-1/step_003.png"})
	require.NoError(t, err)
	require.Len(t, *texts, 1)
	msg := (*texts)[0]
	assert.Contains(t, msg, "[P0] Cart crashes")
	assert.Contains(t, msg, "Owner: backend")
	assert.Contains(t, msg, "step_003.png")
}

func TestNotifyRunSummary(t *testing.T) {
	srv, texts := captureServer(t, http.StatusOK)
	s := NewSlack(srv.URL, nil, zap.NewNop())

	err := s.NotifyRunSummary(context.Background(), testRun(), &types.StructuredSummary{
		Summary: "Mostly fine", TestsPassed: []string{"a", "b"}, CaptchaEncountered: true,
	}, 2)
	require.NoError(t, err)
	require.Len(t, *texts, 1)
	assert.Contains(t, (*texts)[0], "Issues: 2 | Passed checks: 2")
	assert.Contains(t, (*texts)[0], "CAPTCHA")
}

func TestWebhookErrorSurfaces(t *testing.T) {
	srv, _ := captureServer(t, http.StatusBadRequest)
	s := NewSlack(srv.URL, nil, zap.NewNop())
	err := s.NotifyFlakySummary(context.Background(), testRun(), nil, []string{"Spinner hangs"})
	assert.ErrorContains(t, err, "400")
}

func TestUnconfiguredWebhookIsNoop(t *testing.T) {
	s := NewSlack("", nil, zap.NewNop())
	assert.NoError(t, s.NotifyRunSummary(context.Background(), testRun(), &types.StructuredSummary{}, 0))
}

func TestOwnerRouting(t *testing.T) {
	s := NewSlack("", map[string]string{"visual": "design"}, zap.NewNop())
	assert.Equal(t, "design", s.Owner("visual"))
	assert.Equal(t, "ux", s.Owner("accessibility"))
	assert.Equal(t, "backend", s.Owner("unknown-category"))
}
