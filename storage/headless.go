package storage

// HeadlessBackend is selected when the client runs without an interactive
// store. Every read is absent and every write is dropped.
type HeadlessBackend struct{}

var _ Backend = HeadlessBackend{}

func (HeadlessBackend) Name() string                     { return "headless" }
func (HeadlessBackend) Get(string) (string, bool, error) { return "", false, nil }
func (HeadlessBackend) Set(string, string) error         { return nil }
func (HeadlessBackend) Remove(string) error              { return nil }
func (HeadlessBackend) Keys(string) ([]string, error)    { return nil, nil }
