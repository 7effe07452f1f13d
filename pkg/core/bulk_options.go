package core

// BulkProgressCallback is invoked after each chunk completes with the number of entities written so far.
type BulkProgressCallback func(done, total int)

// BulkOptions tune the behavior of bulk writes.
type BulkOptions struct {
	ProgressCallback BulkProgressCallback
	// ChunkSize caps the actions per transaction; it is lowered to the store's MaxBatchSize.
	ChunkSize int
	// Concurrency bounds parallel calls in best-effort mode.
	Concurrency int
	// Transactional submits partition-grouped chunks atomically instead of one call per entity.
	Transactional bool
}

// DefaultBulkOptions returns a sensible baseline configuration.
func DefaultBulkOptions() *BulkOptions {
	return &BulkOptions{
		ChunkSize:     100,
		Concurrency:   4,
		Transactional: false,
	}
}

// Clone returns a shallow copy of the options to decouple caller modifications from shared defaults.
func (o *BulkOptions) Clone() *BulkOptions {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}

// EffectiveChunkSize returns the chunk size bounded by the store limit.
func (o *BulkOptions) EffectiveChunkSize(caps Capabilities) int {
	size := o.ChunkSize
	if size <= 0 {
		size = DefaultBulkOptions().ChunkSize
	}
	if caps.MaxBatchSize > 0 && size > caps.MaxBatchSize {
		size = caps.MaxBatchSize
	}
	return size
}

// ChunkActions groups actions for transactional submission. When the store requires
// single-partition transactions, actions are grouped by partition key in first-seen order
// before chunking.
func ChunkActions(actions []Action, size int, caps Capabilities) [][]Action {
	if size <= 0 {
		size = 1
	}

	groups := [][]Action{actions}
	if caps.SinglePartitionTransactions {
		groups = groupByPartition(actions)
	}

	var chunks [][]Action
	for _, g := range groups {
		for start := 0; start < len(g); start += size {
			end := min(start+size, len(g))
			chunks = append(chunks, g[start:end])
		}
	}
	return chunks
}

func groupByPartition(actions []Action) [][]Action {
	index := make(map[string]int)
	var groups [][]Action
	for _, a := range actions {
		pk := a.Record.PartitionKey
		i, ok := index[pk]
		if !ok {
			i = len(groups)
			index[pk] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], a)
	}
	return groups
}
