package dualwrite

// FailureClass tags an escaped error by whether the channel caused it.
type FailureClass int

const (
	// OtherFailure is anything that is not a channel failure: mapping errors,
	// persistence errors, commit errors, programmer errors.
	OtherFailure FailureClass = iota
	// ChannelFailure is a transport error or an acknowledgment timeout.
	ChannelFailure
)

func (c FailureClass) String() string {
	if c == ChannelFailure {
		return "channel"
	}
	return "other"
}

// Matcher reports whether a single error in a chain is a channel failure.
type Matcher func(err error) bool

// Classifier decides the FailureClass of an error by inspecting every error in
// its chain, including both branches of joined errors.
type Classifier struct {
	matchers []Matcher
}

// NewClassifier returns a Classifier that recognises *ChannelError and
// ErrAckTimeout plus anything the extra matchers accept.
func NewClassifier(matchers ...Matcher) Classifier {
	return Classifier{matchers: matchers}
}

// With returns a copy of c with more matchers.
func (c Classifier) With(matchers ...Matcher) Classifier {
	all := make([]Matcher, 0, len(c.matchers)+len(matchers))
	all = append(all, c.matchers...)
	all = append(all, matchers...)
	return Classifier{matchers: all}
}

// Classify walks err's chain and returns ChannelFailure as soon as one link is a
// channel failure.
func (c Classifier) Classify(err error) FailureClass {
	if walkChain(err, c.isChannel) {
		return ChannelFailure
	}
	return OtherFailure
}

func (c Classifier) isChannel(err error) bool {
	if _, ok := err.(*ChannelError); ok {
		return true
	}
	if err == ErrAckTimeout {
		return true
	}
	for _, m := range c.matchers {
		if m(err) {
			return true
		}
	}
	return false
}

// Classify uses a Classifier with no extra matchers.
func Classify(err error) FailureClass {
	return NewClassifier().Classify(err)
}

// IsChannelFailure is shorthand for Classify(err) == ChannelFailure.
func IsChannelFailure(err error) bool {
	return err != nil && Classify(err) == ChannelFailure
}

func walkChain(err error, visit func(error) bool) bool {
	for err != nil {
		if visit(err) {
			return true
		}
		switch x := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range x.Unwrap() {
				if walkChain(e, visit) {
					return true
				}
			}
			return false
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		default:
			return false
		}
	}
	return false
}
