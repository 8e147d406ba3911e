package config

import "net/url"

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log: credentials and
// webhook URLs are masked, and a postgres DSN keeps its host and database
// but loses its password. Slices are copied.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Postgres.DSN = redactDSN(cfg.Postgres.DSN)
	for _, s := range []*string{
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Server.APIKey,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
		&out.Notify.WebhookURL,
	} {
		if *s != "" {
			*s = redacted
		}
	}

	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	return out
}

// redactDSN masks the password of a URL-form DSN. Keyword/value DSNs cannot
// be split safely and are masked whole.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return redacted
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}
