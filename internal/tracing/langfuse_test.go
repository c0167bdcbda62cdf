package tracing

import "testing"

func TestSetup_DisabledWithoutKeys(t *testing.T) {
	t.Parallel()

	for _, cfg := range []Config{
		{},
		{PublicKey: "pk"},
		{SecretKey: "sk", Host: "https://cloud.langfuse.com"},
	} {
		h, flush, ok := Setup(cfg)
		if ok || h != nil || flush != nil {
			t.Errorf("Setup(%+v) = %v, %v, %v; want disabled", cfg, h, flush != nil, ok)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	lc, ok := resolve(Config{PublicKey: "pk", SecretKey: "sk"})
	if !ok {
		t.Fatal("resolve() disabled with both keys set")
	}
	if lc.Host != DefaultHost {
		t.Errorf("Host = %q, want %q", lc.Host, DefaultHost)
	}
	if lc.PublicKey != "pk" || lc.SecretKey != "sk" {
		t.Errorf("keys = %q/%q", lc.PublicKey, lc.SecretKey)
	}

	lc, _ = resolve(Config{Host: "https://cloud.langfuse.com", PublicKey: "pk", SecretKey: "sk"})
	if lc.Host != "https://cloud.langfuse.com" {
		t.Errorf("Host = %q, explicit host not kept", lc.Host)
	}
}
