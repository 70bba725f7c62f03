package audit

import (
	"fmt"
	"sync"
)

var (
	globalMu     sync.RWMutex
	globalWriter Writer = NopWriter{}
	enabled      bool
)

// Init installs w as the process-wide audit writer. A nil writer disables auditing.
func Init(w Writer) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if w == nil {
		globalWriter = NopWriter{}
		enabled = false
		return
	}
	globalWriter = w
	enabled = true
}

// InitFile installs a FileWriter for path. An empty path disables auditing.
func InitFile(path string) error {
	if path == "" {
		Init(nil)
		return nil
	}
	w, err := NewFileWriter(path)
	if err != nil {
		return err
	}
	Init(w)
	return nil
}

// Close closes the global writer and disables auditing.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	err := globalWriter.Close()
	globalWriter = NopWriter{}
	enabled = false
	return err
}

// Enabled returns whether audit logging is active.
func Enabled() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return enabled
}

// Log writes event to the global writer. A non-nil error must fail the
// operation being audited.
func Log(event *Event) error {
	globalMu.RLock()
	w := globalWriter
	globalMu.RUnlock()

	if err := w.Write(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

// LogKeyAccessed records a private key acquisition.
func LogKeyAccessed(obj Object, ctx Context, opErr error) error {
	return Log(NewEvent(EventKeyAccessed, ResultOf(opErr)).WithObject(obj).WithContext(ctx).WithError(opErr))
}

// LogKeyImported records a public key import.
func LogKeyImported(obj Object, ctx Context, opErr error) error {
	return Log(NewEvent(EventKeyImported, ResultOf(opErr)).WithObject(obj).WithContext(ctx).WithError(opErr))
}

// LogKeyGenerated records a key generation.
func LogKeyGenerated(obj Object, ctx Context, opErr error) error {
	return Log(NewEvent(EventKeyGenerated, ResultOf(opErr)).WithObject(obj).WithContext(ctx).WithError(opErr))
}

// LogKeyTranslated records a legacy to modern handle translation attempt.
func LogKeyTranslated(obj Object, ctx Context, opErr error) error {
	return Log(NewEvent(EventKeyTranslated, ResultOf(opErr)).WithObject(obj).WithContext(ctx).WithError(opErr))
}

// LogSign records a signature operation.
func LogSign(obj Object, ctx Context, opErr error) error {
	return Log(NewEvent(EventSign, ResultOf(opErr)).WithObject(obj).WithContext(ctx).WithError(opErr))
}

// LogVerify records a verification. A completed verification that returned
// false is a success with Verified unset.
func LogVerify(obj Object, ctx Context, verified bool, opErr error) error {
	ctx.Verified = verified
	return Log(NewEvent(EventVerify, ResultOf(opErr)).WithObject(obj).WithContext(ctx).WithError(opErr))
}
