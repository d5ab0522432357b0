package format

// Runtime reports which codec strings can currently be recorded.
type Runtime interface {
	IsTypeSupported(codec string) bool
}

// Support describes one format's candidates as seen by the runtime.
type Support struct {
	Format     AudioFormat      `json:"format"`
	Supported  bool             `json:"supported"`
	Resolved   string           `json:"resolved"`
	Bitrate    int              `json:"bitrate"`
	Candidates []CandidateState `json:"candidates"`
}

type CandidateState struct {
	Codec     string `json:"codec"`
	Supported bool   `json:"supported"`
}

// Negotiator picks concrete codecs for formats. It holds no cache: every call
// asks the runtime again, since availability can change between sessions.
type Negotiator struct {
	rt Runtime
}

func NewNegotiator(rt Runtime) *Negotiator {
	return &Negotiator{rt: rt}
}

// ResolveEncoding returns the first supported candidate for f. When nothing is
// supported it returns the lowest-priority candidate; capture re-checks it.
func (n *Negotiator) ResolveEncoding(f AudioFormat) string {
	list := candidates[f]
	if len(list) == 0 {
		return ""
	}
	for _, c := range list {
		if n.rt.IsTypeSupported(c) {
			return c
		}
	}
	return list[len(list)-1]
}

func (n *Negotiator) IsFormatSupported(f AudioFormat) bool {
	for _, c := range candidates[f] {
		if n.rt.IsTypeSupported(c) {
			return true
		}
	}
	return false
}

// RecommendedFormat walks Priority and falls back to WebM.
func (n *Negotiator) RecommendedFormat() AudioFormat {
	for _, f := range Priority {
		if n.IsFormatSupported(f) {
			return f
		}
	}
	return WebM
}

// SupportMatrix reports every format and candidate, in Priority order.
func (n *Negotiator) SupportMatrix() []Support {
	out := make([]Support, 0, len(Priority))
	for _, f := range Priority {
		s := Support{Format: f, Bitrate: NominalBitrate(f)}
		for _, c := range candidates[f] {
			ok := n.rt.IsTypeSupported(c)
			if ok && !s.Supported {
				s.Supported = true
				s.Resolved = c
			}
			s.Candidates = append(s.Candidates, CandidateState{Codec: c, Supported: ok})
		}
		if !s.Supported {
			s.Resolved = candidates[f][len(candidates[f])-1]
		}
		out = append(out, s)
	}
	return out
}
