package provisionapp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envLookup(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func TestMailServerLoader_Run(t *testing.T) {
	env := newTestEnv(t)
	param := env.server.Seed(modelConfigParameter, map[string]any{"key": "mail.catchall.domain", "value": "old.example"})
	var tested []any
	env.server.Handle(modelMailServer, "test_connection", func(args []any, _ map[string]any) (any, error) {
		tested = args
		return true, nil
	})
	disabled := false
	env.cfg.Mail = config.MailConfig{
		Servers: []config.MailServerConfig{
			{Type: "smtp", Name: "Ausgang", Host: "${SMTP_HOST}", User: "erp", Password: "${SMTP_PASS}", From: "erp@drohnen.de", TestConnection: true},
			{Type: "IMAP", Name: "Eingang", Host: "IMAP.Drohnen.de", User: "erp", Password: "geheim", SSL: true, Priority: 5, Active: &disabled},
			{Type: "smtp", Name: "Ohne Env", Host: "${MISSING_HOST}", User: "erp"},
			{Type: "smtp", Name: "Zu kurz", Host: "ab", User: "erp"},
		},
		Parameters: []config.MailParameterConfig{
			{Key: "mail.catchall.domain", Value: "drohnen.de"},
			{Key: "mail.default.from", Value: "${MAIL_FROM}"},
		},
	}

	loader := NewMailServerLoader(env.deps())
	loader.lookupEnv = envLookup(map[string]string{
		"SMTP_HOST": "SMTP.Drohnen.de",
		"SMTP_PASS": "geheim",
		"MAIL_FROM": "erp",
	})
	res, err := loader.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, provisioning.StepStatusSucceeded, res.Status)
	assert.Equal(t, 1, res.Stats["smtp_servers_created"])
	assert.Equal(t, 1, res.Stats["imap_servers_created"])
	assert.Equal(t, 2, res.Stats["errors"])
	assert.Equal(t, 2, res.Stats["mail_parameters_updated"])
	assert.Equal(t, 1, res.Stats["connection_tests_passed"])

	smtp := env.byField(modelMailServer, "name", "Ausgang")
	require.NotNil(t, smtp)
	assert.Equal(t, "smtp.drohnen.de", smtp.String("smtp_host"))
	assert.Equal(t, int64(587), smtp.Int("smtp_port"))
	assert.Equal(t, "starttls", smtp.String("smtp_encryption"))
	assert.Equal(t, "geheim", smtp.String("smtp_pass"))
	assert.Equal(t, "erp@drohnen.de", smtp.String("smtp_from"))
	assert.Equal(t, true, smtp["active"])
	require.Len(t, tested, 1)
	assert.Equal(t, []int64{smtp.ID()}, tested[0])

	imap := env.byField(modelFetchmailServer, "name", "Eingang")
	require.NotNil(t, imap)
	assert.Equal(t, "imap.drohnen.de", imap.String("server"))
	assert.Equal(t, int64(993), imap.Int("port"))
	assert.Equal(t, true, imap["is_ssl"])
	assert.Equal(t, int64(5), imap.Int("priority"))
	assert.Equal(t, false, imap["active"])

	assert.Nil(t, env.byField(modelMailServer, "name", "Ohne Env"))
	assert.Nil(t, env.byField(modelMailServer, "name", "Zu kurz"))

	assert.Equal(t, "drohnen.de", env.server.Get(modelConfigParameter, param).String("value"))
	from := env.byField(modelConfigParameter, "key", "mail.default.from")
	require.NotNil(t, from)
	assert.Equal(t, "erp", from.String("value"))

	trail, err := os.ReadFile(filepath.Join(env.cfg.Data.AuditDir, "mailserver_audit.json"))
	require.NoError(t, err)
	assert.Contains(t, string(trail), "Ausgang")
	assert.NotContains(t, string(trail), "geheim")
}

func TestMailServerLoader_Rerun(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Mail.Servers = []config.MailServerConfig{
		{Type: "smtp", Name: "Ausgang", Host: "smtp.drohnen.de", Port: 465, User: "erp", Encryption: "ssl"},
	}
	deps := env.deps()

	_, err := NewMailServerLoader(deps).Run(context.Background())
	require.NoError(t, err)
	res, err := NewMailServerLoader(deps).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Stats["smtp_servers_created"])
	assert.Equal(t, 1, res.Stats["smtp_servers_updated"])
	servers := env.server.Records(modelMailServer)
	require.Len(t, servers, 1)
	assert.Equal(t, int64(465), servers[0].Int("smtp_port"))
	assert.Equal(t, "ssl", servers[0].String("smtp_encryption"))
	assert.NotContains(t, servers[0], "smtp_pass")
	assert.Equal(t, 0, env.server.CallCount(modelMailServer, "test_connection"))
}

func TestMailServerLoader_FailedConnectionTest(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Mail.Servers = []config.MailServerConfig{
		{Type: "smtp", Name: "Ausgang", Host: "smtp.drohnen.de", User: "erp", TestConnection: true},
	}

	res, err := NewMailServerLoader(env.deps()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats["connection_tests_failed"])
	assert.Equal(t, 1, res.Stats["smtp_servers_created"])
	assert.Equal(t, 0, res.Stats["errors"])
}

func TestMailServerLoader_NothingConfigured(t *testing.T) {
	env := newTestEnv(t)
	res, err := NewMailServerLoader(env.deps()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provisioning.StepStatusSkipped, res.Status)
	assert.Empty(t, env.server.Calls())
}

func TestResolveEnv(t *testing.T) {
	lookup := envLookup(map[string]string{"HOST": "smtp.example.com", "PORT": "587", "EMPTY": ""})
	tests := []struct {
		name    string
		value   string
		want    string
		missing string
	}{
		{name: "plain", value: "smtp.local", want: "smtp.local"},
		{name: "whole", value: "${HOST}", want: "smtp.example.com"},
		{name: "embedded", value: "${HOST}:${PORT}", want: "smtp.example.com:587"},
		{name: "empty value is set", value: "x${EMPTY}y", want: "xy"},
		{name: "lowercase is not a placeholder", value: "${host}", want: "${host}"},
		{name: "missing", value: "${NOPE}", missing: "NOPE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveEnv("host", tt.value, lookup)
			if tt.missing != "" {
				var missing *MissingEnvError
				require.ErrorAs(t, err, &missing)
				assert.Equal(t, tt.missing, missing.Variable)
				assert.Equal(t, "host", missing.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
