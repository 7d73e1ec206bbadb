package session

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"installation limit", errors.New("identity has already registered 5/5 installations"), KindInstallationLimit},
		{"installation limit phrasing", errors.New("Installation limit exceeded for inbox"), KindInstallationLimit},
		{"smart contract signature", errors.New("smart contract wallet signature is not supported"), KindSignatureUnsupported},
		{"unsupported signature", errors.New("unsupported signature scheme"), KindSignatureUnsupported},
		{"generic", errors.New("dial tcp: connection refused"), KindInitFailed},
		{"empty message", errors.New(""), KindInitFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.want {
				t.Errorf("Classify(%q).Kind = %s, want %s", tt.err, got.Kind, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error should wrap the original")
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	if got := Classify(nil); got != nil {
		t.Errorf("Classify(nil) = %v, want nil", got)
	}
}

func TestGuidanceIsNotRaw(t *testing.T) {
	raw := errors.New("grpc: code 13 internal EntropyPoolDepleted")
	serr := Classify(fmt.Errorf("create client: %w", raw))
	if serr.Guidance() == serr.Error() {
		t.Error("guidance should differ from the raw error")
	}
	if serr.Guidance() == "" {
		t.Error("guidance should not be empty")
	}
}
