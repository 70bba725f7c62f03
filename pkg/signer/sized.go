package signer

import "github.com/remiblancher/msgsigner/pkg/keystore"

// callSized runs a provider call that follows the two-phase sizing
// convention: a nil buffer asks for the output length, a second call with a
// buffer of that length fills it.
func callSized(call func(out []byte) (int, keystore.Status)) ([]byte, keystore.Status) {
	n, st := call(nil)
	if !st.OK() {
		return nil, st
	}

	buf := make([]byte, n)
	n, st = call(buf)
	if st == keystore.StatusBufferTooSmall {
		// The provider reported a larger size on the second call.
		buf = make([]byte, n)
		n, st = call(buf)
	}
	if !st.OK() {
		return nil, st
	}
	return buf[:n], keystore.StatusSuccess
}
