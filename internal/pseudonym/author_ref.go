package pseudonym

// AuthorKind discriminates the two author id representations.
type AuthorKind string

const (
	// AuthorKindPseudonymous marks a hashed author id.
	AuthorKindPseudonymous AuthorKind = "pseudonymous"
	// AuthorKindReal marks a raw platform author id revealed through opt-in.
	AuthorKindReal AuthorKind = "real"
)

// AuthorRef carries an author id together with an explicit kind tag, so call
// sites never have to infer whether an id is hashed from its length.
type AuthorRef struct {
	Kind AuthorKind
	ID   string
}

// Pseudonymous wraps a hashed author id.
func Pseudonymous(id string) AuthorRef {
	return AuthorRef{Kind: AuthorKindPseudonymous, ID: id}
}

// Real wraps a raw platform author id.
func Real(id string) AuthorRef {
	return AuthorRef{Kind: AuthorKindReal, ID: id}
}

// IsReal reports whether the reference exposes a real platform id.
func (r AuthorRef) IsReal() bool {
	return r.Kind == AuthorKindReal
}
