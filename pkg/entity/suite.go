package entity

// Suite groups cases that form one comparable set of measurements. When its
// config enables concurrency, the cases run simultaneously and telemetry is
// attributed to the suite as a whole.
type Suite struct {
	Entity
	cases []*Case
}

func NewSuite() *Suite {
	s := &Suite{Entity: newEntity(KindSuite)}
	s.self = s
	return s
}

func (s *Suite) Cases() []*Case { return s.cases }

// AddCase appends a case and links it to this suite.
func (s *Suite) AddCase(c *Case) {
	c.SetParent(s)
	s.cases = append(s.cases, c)
}
