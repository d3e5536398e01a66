package transform

import "fmt"

type stage struct {
	name    string
	codec   Codec
	aligner *Aligner
}

// Stream is one message's pass through the pipeline. It is not safe for
// concurrent use and must be finished exactly once.
type Stream struct {
	dir      Direction
	stages   []stage
	finished bool
}

func (s *Stream) Direction() Direction { return s.dir }

// Push feeds the next chunk of the body and returns whatever output became
// available. The result may alias p and is only valid until the next call.
func (s *Stream) Push(p []byte) ([]byte, error) {
	if s.finished {
		return nil, fmt.Errorf("%s: push after finish", s.dir)
	}
	data := p
	for i := range s.stages {
		if len(data) == 0 {
			return nil, nil
		}
		out, err := s.stages[i].step(s.dir, data)
		if err != nil {
			return nil, err
		}
		data = out
	}
	return data, nil
}

// Finish flushes every stage in order, finalizing each codec with its
// carried bytes, and returns the remaining output.
func (s *Stream) Finish() ([]byte, error) {
	if s.finished {
		return nil, nil
	}
	s.finished = true

	var data []byte
	for i := range s.stages {
		st := &s.stages[i]
		out, err := st.step(s.dir, data)
		if err != nil {
			return nil, err
		}
		tail, err := st.codec.Finalize(s.dir, st.aligner.Flush())
		if err != nil {
			return nil, fmt.Errorf("%s %s finalize: %w", st.name, s.dir, err)
		}
		data = append(out, tail...)
	}
	return data, nil
}

func (st *stage) step(dir Direction, p []byte) ([]byte, error) {
	aligned := st.aligner.Push(p)
	if len(aligned) == 0 {
		return nil, nil
	}
	var (
		out []byte
		err error
	)
	if dir == Encode {
		out, err = st.codec.Encode(aligned)
	} else {
		out, err = st.codec.Decode(aligned)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", st.name, dir, err)
	}
	return out, nil
}
