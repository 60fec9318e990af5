package provisionapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/infrastructure/audit"
	"github.com/erp/provisioner/internal/infrastructure/config"
	"github.com/erp/provisioner/internal/infrastructure/logger"
	"github.com/erp/provisioner/internal/infrastructure/odoo"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	modelMailServer      = "ir.mail_server"
	modelFetchmailServer = "fetchmail.server"
	modelConfigParameter = "ir.config_parameter"

	mailServerSMTP = "smtp"
	mailServerIMAP = "imap"
)

var envPattern = regexp.MustCompile(`\$\{([A-Z_0-9]+)\}`)

var mailValidate = validator.New()

// MissingEnvError reports a ${VAR} placeholder without a value
type MissingEnvError struct {
	Field    string
	Variable string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("%s: environment variable %s is not set", e.Field, e.Variable)
}

// resolveEnv replaces every ${VAR} in value using lookup
func resolveEnv(field, value string, lookup func(string) (string, bool)) (string, error) {
	var missing error
	out := envPattern.ReplaceAllStringFunc(value, func(m string) string {
		name := envPattern.FindStringSubmatch(m)[1]
		v, ok := lookup(name)
		if !ok {
			if missing == nil {
				missing = &MissingEnvError{Field: field, Variable: name}
			}
			return m
		}
		return v
	})
	return out, missing
}

// mailServer is a server entry after placeholder resolution. Password is
// not part of validation so it never shows up in a validation message.
type mailServer struct {
	Type       string `validate:"oneof=smtp imap"`
	Name       string `validate:"required"`
	Host       string `validate:"min=3"`
	Port       int    `validate:"min=1,max=65535"`
	User       string `validate:"required"`
	From       string `validate:"omitempty,email,max=254"`
	Password   string `validate:"-"`
	Encryption string `validate:"-"`
	SSL        bool
	Priority   int
	Active     bool
	Test       bool
}

// MailServerLoader configures outgoing and incoming mail servers and the
// mail system parameters.
type MailServerLoader struct {
	loaderBase
	lookupEnv func(string) (string, bool)
}

// NewMailServerLoader creates a MailServerLoader
func NewMailServerLoader(deps Deps) *MailServerLoader {
	return &MailServerLoader{
		loaderBase: newLoaderBase("mailserver", deps,
			"smtp_servers_created", "smtp_servers_updated", "imap_servers_created", "imap_servers_updated",
			"mail_parameters_updated", "connection_tests_passed", "connection_tests_failed", "errors"),
		lookupEnv: os.LookupEnv,
	}
}

// Run applies the mail configuration. It is skipped when nothing is configured.
func (l *MailServerLoader) Run(ctx context.Context) (*provisioning.StepResult, error) {
	mc := l.deps.Config.Mail
	if len(mc.Servers) == 0 && len(mc.Parameters) == 0 {
		return l.skipped(ctx, "no mail configuration"), nil
	}

	for _, sc := range mc.Servers {
		if err := l.ensureServer(ctx, sc); err != nil {
			if isFatal(err) {
				return nil, err
			}
			logger.L(ctx).Error("mail server not configured", zap.String("name", sc.Name), zap.Error(err))
			l.stats.Inc("errors")
		}
	}
	for _, p := range mc.Parameters {
		if err := l.ensureParameter(ctx, p); err != nil {
			if isFatal(err) {
				return nil, err
			}
			logger.L(ctx).Error("mail parameter not set", zap.String("key", p.Key), zap.Error(err))
			l.stats.Inc("errors")
		}
	}
	return l.finish(ctx, provisioning.StepStatusSucceeded), nil
}

// resolve substitutes placeholders and validates the entry
func (l *MailServerLoader) resolve(sc config.MailServerConfig) (mailServer, error) {
	s := mailServer{
		Type:       strings.ToLower(strings.TrimSpace(sc.Type)),
		Port:       sc.Port,
		SSL:        sc.SSL,
		Priority:   sc.Priority,
		Active:     sc.Active == nil || *sc.Active,
		Test:       sc.TestConnection,
		Encryption: sc.Encryption,
	}
	fields := []struct {
		name string
		src  string
		dst  *string
	}{
		{"name", sc.Name, &s.Name},
		{"host", sc.Host, &s.Host},
		{"user", sc.User, &s.User},
		{"password", sc.Password, &s.Password},
		{"from", sc.From, &s.From},
	}
	for _, f := range fields {
		v, err := resolveEnv(f.name, f.src, l.lookupEnv)
		if err != nil {
			return s, err
		}
		*f.dst = strings.TrimSpace(v)
	}
	s.Host = strings.ToLower(s.Host)
	if s.Port == 0 {
		s.Port = 587
		if s.Type == mailServerIMAP {
			s.Port = 993
		}
	}
	if s.Type == mailServerSMTP && s.Encryption == "" {
		s.Encryption = "starttls"
	}
	if err := mailValidate.Struct(s); err != nil {
		return s, fmt.Errorf("invalid %s server %q: %w", s.Type, s.Name, err)
	}
	return s, nil
}

func (l *MailServerLoader) ensureServer(ctx context.Context, sc config.MailServerConfig) error {
	s, err := l.resolve(sc)
	if err != nil {
		return err
	}

	model := modelMailServer
	vals := odoo.Values{"name": s.Name, "active": s.Active}
	switch s.Type {
	case mailServerSMTP:
		vals["smtp_host"] = s.Host
		vals["smtp_port"] = s.Port
		vals["smtp_user"] = s.User
		vals["smtp_encryption"] = s.Encryption
		if s.Password != "" {
			vals["smtp_pass"] = s.Password
		}
		if s.From != "" {
			vals["smtp_from"] = s.From
		}
	case mailServerIMAP:
		model = modelFetchmailServer
		vals["server"] = s.Host
		vals["port"] = s.Port
		vals["user"] = s.User
		vals["is_ssl"] = s.SSL
		if s.Priority > 0 {
			vals["priority"] = s.Priority
		}
		if s.Password != "" {
			vals["password"] = s.Password
		}
	}

	id, created, err := l.erp().EnsureRecord(ctx, model, odoo.Where("name", "=", s.Name), vals, vals)
	if err != nil {
		var ambiguous *odoo.RecordAmbiguousError
		if errors.As(err, &ambiguous) {
			return fmt.Errorf("several %s records named %q", model, s.Name)
		}
		return err
	}
	action := audit.ActionUpdated
	if created {
		action = audit.ActionCreated
		l.stats.Inc(s.Type + "_servers_created")
	} else {
		l.stats.Inc(s.Type + "_servers_updated")
	}
	l.trail.Add(action, model, id, s.Name, map[string]any{"type": s.Type, "host": s.Host, "port": s.Port})
	logger.L(ctx).Info("mail server ensured",
		zap.String("type", s.Type), zap.String("name", s.Name), zap.String("host", s.Host), zap.Bool("created", created))

	if s.Type == mailServerSMTP && s.Test {
		l.testConnection(ctx, id, s.Name)
	}
	return nil
}

// testConnection asks the ERP to connect to the server. Failures are counted
// only; the error text is logged at debug level since it may echo credentials.
func (l *MailServerLoader) testConnection(ctx context.Context, id int64, name string) {
	if _, err := l.erp().Call(ctx, modelMailServer, "test_connection", []any{[]int64{id}}, nil); err != nil {
		l.stats.Inc("connection_tests_failed")
		logger.L(ctx).Warn("mail server connection test failed", zap.String("name", name), zap.String("error_type", fmt.Sprintf("%T", err)))
		logger.L(ctx).Debug("mail server connection test details", zap.String("name", name), zap.Error(err))
		return
	}
	l.stats.Inc("connection_tests_passed")
}

func (l *MailServerLoader) ensureParameter(ctx context.Context, p config.MailParameterConfig) error {
	value, err := resolveEnv(p.Key, p.Value, l.lookupEnv)
	if err != nil {
		return err
	}
	id, created, err := l.erp().EnsureRecord(ctx, modelConfigParameter, odoo.Where("key", "=", p.Key),
		odoo.Values{"key": p.Key, "value": value}, odoo.Values{"value": value})
	if err != nil {
		return err
	}
	action := audit.ActionUpdated
	if created {
		action = audit.ActionCreated
	}
	l.stats.Inc("mail_parameters_updated")
	l.trail.Add(action, modelConfigParameter, id, p.Key, nil)
	return nil
}
