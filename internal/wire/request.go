package wire

// request is the plain Request implementation used when the caller has
// already assembled the body. Parameter validation belongs to the builder
// that produced the body, not here.
type request struct {
	service   string
	operation string
	body      *Element
}

// NewRequest wraps a pre-built body element as a Request for the given
// service operation.
func NewRequest(service, operation string, body *Element) Request {
	return &request{service: service, operation: operation, body: body}
}

func (r *request) Service() string   { return r.service }
func (r *request) Operation() string { return r.operation }
func (r *request) Body() *Element    { return r.body }
