package natsbus

import (
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestStreamConfigCoversSecuritySubjects(t *testing.T) {
	cfg := streamConfig()

	assert.Equal(t, "SECURITY", cfg.Name)
	assert.ElementsMatch(t, []string{"security.outcomes.>", "security.alerts.>"}, cfg.Subjects)
	assert.Equal(t, nats.FileStorage, cfg.Storage)
	assert.Greater(t, cfg.MaxMsgSize, int32(1_000_000))
}
