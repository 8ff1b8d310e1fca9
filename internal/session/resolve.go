package session

import "github.com/matheus3301/wirego/internal/config"

const DefaultSessionName = "main"

// Resolve picks the active session. An explicit flag wins, then
// WIRE_DEFAULT_SESSION or default_session, then a name derived from the
// configured account, then "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.LoadOrDefault(ConfigPath())
	if err != nil || config.ApplyEnv(cfg) != nil {
		return DefaultSessionName
	}
	if cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	if name, err := NameForUser(cfg.Account.UserID); err == nil {
		return name
	}
	return DefaultSessionName
}
