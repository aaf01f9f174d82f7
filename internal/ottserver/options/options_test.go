package options

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	genericoptions "github.com/maxiaolu1981/cretem/ottserver/internal/pkg/options"
)

func TestCompleteSelectsStoreByMode(t *testing.T) {
	cases := []struct {
		mode string
		want string
	}{
		{gin.ReleaseMode, genericoptions.TokenStoreMySQL},
		{gin.TestMode, genericoptions.TokenStoreMemory},
		{gin.DebugMode, genericoptions.TokenStoreMemory},
	}

	for _, tc := range cases {
		opts := NewOptions()
		opts.GenericServerRunOptions.Mode = tc.mode

		if err := opts.Complete(); err != nil {
			t.Fatalf("mode %s: Complete returned error: %v", tc.mode, err)
		}
		if opts.TokenOptions.Store != tc.want {
			t.Fatalf("mode %s: store=%q, want %q", tc.mode, opts.TokenOptions.Store, tc.want)
		}
	}
}

func TestCompleteKeepsExplicitStore(t *testing.T) {
	opts := NewOptions()
	opts.GenericServerRunOptions.Mode = gin.ReleaseMode
	opts.TokenOptions.Store = genericoptions.TokenStoreRedis // 显式指定不被模式推断覆盖

	if err := opts.Complete(); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if opts.TokenOptions.Store != genericoptions.TokenStoreRedis {
		t.Fatalf("store=%q, want redis kept", opts.TokenOptions.Store)
	}
}

func TestCompleteBackfillsTokenDefaults(t *testing.T) {
	opts := NewOptions()
	opts.TokenOptions.DefaultTTL = 0
	opts.TokenOptions.GeneratedRedirectURL = ""
	opts.TokenOptions.LoginProcessingURL = "/redeem"

	if err := opts.Complete(); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if opts.TokenOptions.DefaultTTL != 5*time.Minute {
		t.Fatalf("ttl=%v, want 5m default", opts.TokenOptions.DefaultTTL)
	}
	// 签发后的默认跳转目标跟随兑换路径
	if opts.TokenOptions.GeneratedRedirectURL != "/redeem" {
		t.Fatalf("generated redirect=%q, want /redeem", opts.TokenOptions.GeneratedRedirectURL)
	}
}

func TestDefaultsValidateClean(t *testing.T) {
	opts := NewOptions()
	if err := opts.Complete(); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if errs := opts.Validate(); len(errs) != 0 {
		t.Fatalf("default options must start a server, got errors: %v", errs)
	}
}

func TestValidateRejectsSharedTokenPaths(t *testing.T) {
	opts := NewOptions()
	if err := opts.Complete(); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	opts.TokenOptions.GenerateURL = "/same"
	opts.TokenOptions.LoginProcessingURL = "/same"

	if errs := opts.Validate(); len(errs) == 0 {
		t.Fatalf("generate and login paths must not collide")
	}
}

func TestValidateRejectsRelativeRedirect(t *testing.T) {
	opts := NewOptions()
	if err := opts.Complete(); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	opts.TokenOptions.SuccessRedirectURL = "authenticated"

	if errs := opts.Validate(); len(errs) == 0 {
		t.Fatalf("redirect targets must be absolute paths")
	}
}

func TestStringRendersJSON(t *testing.T) {
	opts := NewOptions()

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal([]byte(opts.String()), &decoded); err != nil {
		t.Fatalf("String output is not valid JSON: %v", err)
	}
	for _, key := range []string{"server", "token", "jwt", "log"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("String output missing %q section", key)
		}
	}
}
