package conversation

// Origin tells where a conversation's session id came from
type Origin int

const (
	OriginNone Origin = iota
	OriginLocal
	OriginBackend
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginBackend:
		return "backend"
	default:
		return "none"
	}
}

// identity is the session id bound to one conversation. Minting is scoped to
// the conversation that owns it; two conversations never share a binding.
type identity struct {
	id     string
	origin Origin
}

// outgoing returns the id to present on the next request; "" means null
func (i identity) outgoing() string {
	return i.id
}

// bindBackend binds a backend-assigned id. A backend id is never replaced;
// a local placeholder is. It returns the replaced placeholder, if any, and
// whether the binding changed.
func (i *identity) bindBackend(id string) (previous string, changed bool) {
	if id == "" || i.origin == OriginBackend {
		return "", false
	}
	if i.origin == OriginLocal {
		previous = i.id
	}
	i.id = id
	i.origin = OriginBackend
	return previous, true
}
