package fixsafety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixDiff(path, added string) string {
	return "--- a/" + path + "\n+++ b/" + path + "\n@@ -1,1 +1,1 @@\n-old\n+" + added + "\n"
}

func TestValidateRejectsEmptyDiff(t *testing.T) {
	var v Validator
	for _, in := range []string{"", "   \n\t"} {
		d := v.Validate(in, 0.99)
		assert.Equal(t, StatusRejected, d.Status)
	}
}

func TestValidateRejectsUnparseableDiff(t *testing.T) {
	var v Validator
	d := v.Validate("this is not a diff", 0.99)
	assert.Equal(t, StatusRejected, d.Status)
}

func TestValidateApprovesConfidentSafeFix(t *testing.T) {
	var v Validator
	d := v.Validate(fixDiff("pkg/util.go", "var x = 2"), 0.92)
	assert.Equal(t, StatusApproved, d.Status)
	assert.Zero(t, d.RiskScore)
}

func TestValidateManualBelowThreshold(t *testing.T) {
	var v Validator
	d := v.Validate(fixDiff("pkg/util.go", "var x = 2"), 0.89)
	assert.Equal(t, StatusManualReview, d.Status)
}

func TestValidateSensitivePathNeedsHigherConfidence(t *testing.T) {
	var v Validator

	// 0.92 clears the normal gate but not the sensitive one.
	d := v.Validate(fixDiff("app/config/database.yml", "pool: 10"), 0.92)
	assert.Equal(t, StatusManualReview, d.Status)

	d = v.Validate(fixDiff("app/config/database.yml", "pool: 10"), 0.96)
	assert.Equal(t, StatusApproved, d.Status)
}

func TestValidateRejectsCriticalPattern(t *testing.T) {
	var v Validator
	d := v.Validate(fixDiff("runner.py", `subprocess.run(cmd, shell=True)`), 0.99)
	assert.Equal(t, StatusRejected, d.Status)
	require.NotEmpty(t, d.Findings)
	assert.Greater(t, d.RiskScore, 0.0)
}

func TestSensitivePathCatalog(t *testing.T) {
	sensitive := []string{
		"app.properties",
		"deploy/values.yaml",
		"settings.yml",
		".env",
		"certs/server.pem",
		"keystore.jks",
		"bundle.p12",
		"home/id_rsa",
		"keys/id_ed25519",
		"src/main/config/app.go",
		"internal/security/rules.go",
		"pkg/auth/token.go",
		"ops/credentials/vault.go",
		"ops/secrets/api.go",
		"server.key",
		"tls.crt",
		"legacy.config",
	}
	for _, p := range sensitive {
		assert.True(t, SensitivePath(p), p)
	}

	safe := []string{
		"pkg/util.go",
		"README.md",
		"cmd/server/main.go",
		"internal/authorize.go", // no /auth/ directory segment
	}
	for _, p := range safe {
		assert.False(t, SensitivePath(p), p)
	}
}
