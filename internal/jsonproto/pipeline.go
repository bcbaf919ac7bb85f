package jsonproto

import ovio "github.com/openvocs/ovio"

// Pipeline chains parsers so stage N's decoded output feeds stage N+1's
// input. Only the final stage's decoded value is returned to the
// caller; every intermediate stage's input buffer is released through
// the configured disposer once consumed.
type Pipeline struct {
	stages   []Parser
	disposer func([]byte)
}

// Chain builds a Pipeline over stages, evaluated first-to-last on
// Decode and last-to-first on Encode. The default disposer is a no-op;
// use WithDisposer to route intermediate buffers back to a cache.
func Chain(stages ...Parser) *Pipeline {
	return &Pipeline{stages: stages, disposer: func([]byte) {}}
}

// WithDisposer sets the function used to release an intermediate
// stage's input buffer after the next stage has consumed it.
func (p *Pipeline) WithDisposer(d func([]byte)) *Pipeline {
	if d != nil {
		p.disposer = d
	}
	return p
}

func (p *Pipeline) Decode(data []byte) (any, State, error) {
	if len(p.stages) == 0 {
		return data, Success, nil
	}

	current := data
	var result any = current
	for i, stage := range p.stages {
		v, state, err := stage.Decode(current)
		if err != nil {
			return nil, Error, err
		}
		if state != Success {
			return nil, state, nil
		}
		if i > 0 {
			p.disposer(current)
		}
		result = v
		if i == len(p.stages)-1 {
			break
		}
		buf, ok := v.([]byte)
		if !ok {
			return nil, Error, ovio.NewError("jsonproto.Pipeline.Decode", ovio.ErrProtocolMismatch, "intermediate stage output is not a byte buffer")
		}
		current = buf
	}
	return result, Success, nil
}

// Encode drives stages tail-first: the innermost (last) stage encodes
// v first, and each outer stage wraps the previous stage's bytes.
func (p *Pipeline) Encode(v any) ([]byte, error) {
	if len(p.stages) == 0 {
		buf, ok := v.([]byte)
		if !ok {
			return nil, ovio.NewError("jsonproto.Pipeline.Encode", ovio.ErrProtocolMismatch, "value is not bytes")
		}
		return buf, nil
	}

	var out any = v
	for i := len(p.stages) - 1; i >= 0; i-- {
		b, err := p.stages[i].Encode(out)
		if err != nil {
			return nil, err
		}
		out = b
	}
	buf, ok := out.([]byte)
	if !ok {
		return nil, ovio.NewError("jsonproto.Pipeline.Encode", ovio.ErrProtocolMismatch, "final stage did not produce bytes")
	}
	return buf, nil
}

// Buffering reports whether any stage buffers partial input.
func (p *Pipeline) Buffering() bool {
	for _, s := range p.stages {
		if s.Buffering() {
			return true
		}
	}
	return false
}

// HasBufferedData reports whether any stage is holding partial input.
func (p *Pipeline) HasBufferedData() bool {
	for _, s := range p.stages {
		if s.HasBufferedData() {
			return true
		}
	}
	return false
}

// EmptyOut concatenates every stage's residual buffered bytes, in
// stage order.
func (p *Pipeline) EmptyOut() []byte {
	var out []byte
	for _, s := range p.stages {
		out = append(out, s.EmptyOut()...)
	}
	return out
}
