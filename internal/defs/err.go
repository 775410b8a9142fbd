package defs

// Err_t is the kernel-internal error code type. Core APIs return this
// instead of a Go error: call sites switch on the numeric code and
// there is no wrapping/unwrapping chain to walk.
type Err_t int

// Named error codes surfaced by the core APIs.
const (
	OK Err_t = 0

	ENOMEM     Err_t = 12 // no physical page / no VA hole large enough (NoSpace)
	EINVAL     Err_t = 22 // InvalidArgument
	ENOENT     Err_t = 2  // NotFound
	EAGAIN     Err_t = 11 // ResourceShortage (slab exhausted, try again)
	ENOSYS     Err_t = 38 // Unimplemented
	EOPNOTSUPP Err_t = 95 // OperationNotSupported
	EBUSY      Err_t = 16 // operation hit a busy resource

	// EAGAIN_SLAB: a slab grow failed because vm_km itself needed a
	// slab buffer during bootstrap ordering. No current code path
	// returns it.
	EAGAIN_SLAB Err_t = 1011
	// EBUSY_WIRED: vm_map remove/protect hit a wired page outside a
	// wire-aware caller. vmmap.Remove and vmmap.Protect do not return
	// it; Remove unwires a wired mapping and deletes it.
	EBUSY_WIRED Err_t = 1016
)

// String renders a human-readable name for an Err_t, used in panic
// dumps and log lines.
func (e Err_t) String() string {
	switch e {
	case OK:
		return "OK"
	case ENOMEM:
		return "ENOMEM"
	case EINVAL:
		return "EINVAL"
	case ENOENT:
		return "ENOENT"
	case EAGAIN:
		return "EAGAIN"
	case ENOSYS:
		return "ENOSYS"
	case EOPNOTSUPP:
		return "EOPNOTSUPP"
	case EBUSY:
		return "EBUSY"
	case EAGAIN_SLAB:
		return "EAGAIN_SLAB"
	case EBUSY_WIRED:
		return "EBUSY_WIRED"
	default:
		return "Err_t(unknown)"
	}
}
