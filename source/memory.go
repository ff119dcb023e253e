package source

// MemorySource serves byte ranges from an in-memory buffer. Useful for
// tests and for previews of files already held in RAM.
type MemorySource struct {
	data []byte
	name string
}

// NewMemorySource wraps data in a DataSource. The buffer is not copied;
// the caller must not mutate it afterwards.
func NewMemorySource(data []byte, name string) *MemorySource {
	return &MemorySource{data: data, name: name}
}

func (s *MemorySource) ReadRange(off int64, n int) ([]byte, error) {
	n, ok := clampRange(off, n, int64(len(s.data)))
	if !ok {
		return nil, nil
	}
	return s.data[off : off+int64(n)], nil
}

func (s *MemorySource) Size() int64 {
	return int64(len(s.data))
}

func (s *MemorySource) Name() string {
	return s.name
}

func (s *MemorySource) Close() error {
	return nil
}
