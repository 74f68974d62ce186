// Package event defines the decoded telemetry event model and the
// callback interface used to deliver events into the managed runtime layer.
package event

import "fmt"

// Kind identifies a notification class. The numeric values are part of the
// agent control protocol (registerCallback/enableEventNotifications commands)
// and must stay in sync with the agent side: non-negative values identify
// buffered message types, negative values identify out-of-band events.
type Kind int

const (
	// KindToJavaCall traces the first call from native into managed code,
	// used to detect the application launcher. Delivered through the
	// deferred event queue, not the buffer pool.
	KindToJavaCall Kind = -98

	// KindClassLoad reports a loaded class together with its content
	// hashes and origin.
	KindClassLoad Kind = 0

	// KindFirstCall reports the first invocation of a method.
	KindFirstCall Kind = 1
)

// String returns the command-protocol name of the kind.
func (k Kind) String() string {
	switch k {
	case KindToJavaCall:
		return "to_java_call"
	case KindClassLoad:
		return "class_load"
	case KindFirstCall:
		return "first_call"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// HashSize is the length in bytes of class content digests (SHA-256).
const HashSize = 32

// ClassLoadEvent is a decoded class-load record.
type ClassLoadEvent struct {
	// LoaderID identifies the defining class loader. Zero means an
	// anonymous loader.
	LoaderID uint32

	// ClassID identifies the class itself.
	ClassID uint32

	// Name is the internal class name.
	Name string

	// OriginalHash is the digest of the class bytes before bytecode
	// transformation. Nil when the class was not transformed.
	OriginalHash []byte

	// Hash is the digest of the class bytes as loaded. Nil when unknown.
	Hash []byte

	// Source is the location the class was defined from (jar path or
	// URL). Empty when unknown.
	Source string
}

// FirstCallEvent is a decoded first-invocation record.
type FirstCallEvent struct {
	// HolderID identifies the class declaring the method.
	HolderID uint32

	// Method is the method name immediately followed by its signature,
	// e.g. "main([Ljava/lang/String;)V".
	Method string
}

// ToJavaCallEvent reports a call that crossed from native into managed code.
type ToJavaCallEvent struct {
	// Name is the qualified "Holder.method" name of the callee.
	Name string
}

// Handler receives decoded telemetry events, one call per record. Handlers
// are invoked from the flush or queue-drain goroutine, never from the
// producing goroutine. Each call may fail independently; a failure is
// logged by the caller and does not stop delivery of subsequent events.
type Handler interface {
	OnClassLoad(ClassLoadEvent) error
	OnFirstCall(FirstCallEvent) error
	OnToJavaCall(ToJavaCallEvent) error
}
