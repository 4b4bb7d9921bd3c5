package crdt

// CharID is the globally unique identifier of one character: a logical clock
// paired with the id of the site that created it.
type CharID struct {
	Clock uint64 `json:"clock"`
	Site  string `json:"site"`
}

// Identifier is one level of a dense position: a digit stamped with the site
// that allocated it. Concurrent allocations between the same neighbors end in
// pairs with equal digits but different sites, so full positions are globally
// unique and every replica sorts a new character into the same slot.
type Identifier struct {
	Digit uint32 `json:"digit"`
	Site  string `json:"site"`
}

// Char is a single element of the sequence. Position is a dense fractional
// identifier; ties on the full position cannot occur, but compareChars still
// falls through to (Site, Clock) so the order is total for any input.
type Char struct {
	ID       CharID       `json:"id"`
	Value    string       `json:"value"`
	Position []Identifier `json:"position"`
}

type Action string

const (
	ActionInsert Action = "insert"
	ActionDelete Action = "delete"
)

// Op is the unit broadcast between replicas. Delete ops only need the CharID
// but carry the full Char so late joiners can resolve ordering.
type Op struct {
	Action Action `json:"action"`
	Char   Char   `json:"char"`
}

func compareIdentifiers(a, b Identifier) int {
	switch {
	case a.Digit < b.Digit:
		return -1
	case a.Digit > b.Digit:
		return 1
	case a.Site < b.Site:
		return -1
	case a.Site > b.Site:
		return 1
	}
	return 0
}

// comparePositions orders two dense positions lexicographically, shorter
// prefix first on ties.
func comparePositions(a, b []Identifier) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := compareIdentifiers(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// compareChars is the total order of the sequence: position first, then site
// id, then clock. Deterministic across replicas by construction.
func compareChars(a, b *Char) int {
	if c := comparePositions(a.Position, b.Position); c != 0 {
		return c
	}
	if a.ID.Site != b.ID.Site {
		if a.ID.Site < b.ID.Site {
			return -1
		}
		return 1
	}
	switch {
	case a.ID.Clock < b.ID.Clock:
		return -1
	case a.ID.Clock > b.ID.Clock:
		return 1
	}
	return 0
}
