package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	setEnvWithCleanup(t, "JWT_SECRET", "test-secret")
	setEnvWithCleanup(t, "DATABASE_URL", "postgres://localhost/supportly")
	setEnvWithCleanup(t, "ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")
	setEnvWithCleanup(t, "CRON_SECRET", "cron")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	for _, k := range []string{"REMINDER_DAYS", "EXPIRING_SOON_DAYS", "EXTERNAL_CALL_TIMEOUT", "MAIL_DRIVER", "STORE_DRIVER"} {
		unsetEnvWithCleanup(t, k)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !reflect.DeepEqual(cfg.ReminderDays, []int{2, 1}) {
		t.Errorf("ReminderDays = %v", cfg.ReminderDays)
	}
	if cfg.ExpiringSoonDays != 2 {
		t.Errorf("ExpiringSoonDays = %d, want 2", cfg.ExpiringSoonDays)
	}
	if cfg.ExternalCallTimeout != 10*time.Second {
		t.Errorf("ExternalCallTimeout = %v", cfg.ExternalCallTimeout)
	}
	if cfg.MailDriver != MailLog || cfg.StoreDriver != StorePostgres {
		t.Errorf("drivers = %s/%s", cfg.MailDriver, cfg.StoreDriver)
	}
	if !cfg.RemoveChannelsOnExpiry {
		t.Error("RemoveChannelsOnExpiry should default to true")
	}
}

func TestLoad_ReminderDaysSortedAndDeduplicated(t *testing.T) {
	setRequired(t)
	setEnvWithCleanup(t, "REMINDER_DAYS", " 1, 7,3,7 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !reflect.DeepEqual(cfg.ReminderDays, []int{7, 3, 1}) {
		t.Errorf("ReminderDays = %v", cfg.ReminderDays)
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"short encryption key", "ENCRYPTION_KEY", "short"},
		{"bad reminder", "REMINDER_DAYS", "2,zero"},
		{"negative reminder", "REMINDER_DAYS", "-1"},
		{"unknown store", "STORE_DRIVER", "sqlite"},
		{"smtp without host", "MAIL_DRIVER", "smtp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			unsetEnvWithCleanup(t, "SMTP_HOST")
			setEnvWithCleanup(t, tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestLoad_MemoryStoreNeedsNoDatabase(t *testing.T) {
	setRequired(t)
	unsetEnvWithCleanup(t, "DATABASE_URL")
	setEnvWithCleanup(t, "STORE_DRIVER", "memory")

	if _, err := Load(); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("setenv %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	_ = os.Unsetenv(key)
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
