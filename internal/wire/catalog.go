package wire

// Definition is the immutable, per-kind set of constraints the header
// and body validators enforce: command name, payload size gates,
// vectorization shape, and protocol-version gating.
type Definition struct {
	Kind               Kind
	Command            string // left-justified, NUL-padded to 12 bytes on the wire
	MinPayloadLength   *uint32
	MaxPayloadLength   *uint32
	IsVectorized       bool
	VectorItemSize     *uint32 // fixed per-element width, when known
	MaxVectorItems     *uint32
	MinProtocolVersion *int32
	MaxProtocolVersion *int32
}

func u32(v uint32) *uint32 { return &v }
func i32(v int32) *int32   { return &v }

// Concrete vector shapes, restored from original_source (the distilled
// spec leaves these abstract): inv/addr/getheaders/headers element sizes
// and caps.
const (
	invItemSize        = 36 // type (4) + hash (32)
	maxInvItems        = 50_000
	addrItemSize       = 30 // time (4) + services (8) + ip (16) + port (2)
	maxAddrItems       = 1_000
	getHeadersItemSize = 32 // a single locator hash; count is vectorized, stop-hash is trailing and not counted here
	maxGetHeadersItems = 2_000
	maxHeadersItems    = 160
)

// definitions is the static, ordered registry of all known message
// kinds. Order must match the Kind iota sequence; KindMissingOrUnknown has
// no entry since it represents "no match found".
var definitions = []Definition{
	{
		Kind:    KindVersion,
		Command: "version",
		// version payload: protocol version(4) + services(8) + timestamp(8) +
		// recv(26) + send(26, >=106) + nonce(8) + user_agent(var) + height(4) + relay(1)
		MinPayloadLength: u32(46),
	},
	{
		Kind:             KindVerAck,
		Command:          "verack",
		MinPayloadLength: u32(0),
		MaxPayloadLength: u32(0),
	},
	{
		Kind:           KindInv,
		Command:        "inv",
		IsVectorized:   true,
		VectorItemSize: u32(invItemSize),
		MaxVectorItems: u32(maxInvItems),
	},
	{
		Kind:           KindAddr,
		Command:        "addr",
		IsVectorized:   true,
		VectorItemSize: u32(addrItemSize),
		MaxVectorItems: u32(maxAddrItems),
	},
	{
		Kind:             KindPing,
		Command:          "ping",
		MinPayloadLength: u32(8),
		MaxPayloadLength: u32(8),
	},
	{
		Kind:             KindPong,
		Command:          "pong",
		MinPayloadLength: u32(8),
		MaxPayloadLength: u32(8),
	},
	{
		Kind:           KindGetHeaders,
		Command:        "getheaders",
		IsVectorized:   true,
		MaxVectorItems: u32(maxGetHeadersItems),
		// locator hashes are uniform 32 bytes each, but the payload also
		// carries a trailing 32-byte stop-hash and a leading 4-byte version,
		// so the fixed-item-size check (which expects avail()==count*size
		// exactly) does not apply here; VectorItemSize is left nil.
	},
	{
		Kind:           KindHeaders,
		Command:        "headers",
		IsVectorized:   true,
		MaxVectorItems: u32(maxHeadersItems),
	},
	{
		Kind:             KindGetAddr,
		Command:          "getaddr",
		MinPayloadLength: u32(0),
		MaxPayloadLength: u32(0),
	},
	{
		Kind:             KindMemPool,
		Command:          "mempool",
		MinPayloadLength: u32(0),
		MaxPayloadLength: u32(0),
	},
	{
		Kind:    KindReject,
		Command: "reject",
		// message(var) + code(1) + reason(var) + optional extra_data(var)
		MinPayloadLength: u32(3),
	},
}

var (
	definitionsByKind   = make(map[Kind]Definition, len(definitions))
	definitionsByCommand = make(map[string]Definition, len(definitions))
)

func init() {
	for _, d := range definitions {
		definitionsByKind[d.Kind] = d
		definitionsByCommand[d.Command] = d
	}
}

// LookupCommand resolves a command string (already trimmed of NUL
// padding) to its Definition, reporting ok=false for an unknown command.
func LookupCommand(command string) (Definition, bool) {
	d, ok := definitionsByCommand[command]
	return d, ok
}

// LookupKind resolves a Kind to its Definition.
func LookupKind(k Kind) (Definition, bool) {
	d, ok := definitionsByKind[k]
	return d, ok
}
