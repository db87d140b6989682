package aggregates

// WriteTxOwnership says who opens the transaction around a write.
type WriteTxOwnership string

// Aggregates open their own transactions; callers never pass one in.
const WriteTxOwnedByAggregate WriteTxOwnership = "aggregate_owned"

// ReadPolicy limits what an aggregate exposes for reads.
type ReadPolicy string

const (
	// ReadPolicyInvariantScoped exposes the reads write decisions and the
	// status polling path need, and no more.
	ReadPolicyInvariantScoped ReadPolicy = "invariant_scoped_reads"
	// ReadPolicyTableRepoQueries leaves listing and search on the repos.
	ReadPolicyTableRepoQueries ReadPolicy = "table_repo_queries"
)

// Contract names an aggregate and the tables it alone may write.
type Contract struct {
	Name             string
	Tables           []string
	WriteTxOwnership WriteTxOwnership
	ReadPolicy       ReadPolicy
	Notes            string
}

// Aggregate is implemented by every aggregate.
type Aggregate interface {
	Contract() Contract
}

func (c Contract) RequiresAggregateOwnedTx() bool {
	return c.WriteTxOwnership == WriteTxOwnedByAggregate
}

// Owns reports whether table is written only through this aggregate.
func (c Contract) Owns(table string) bool {
	for _, t := range c.Tables {
		if t == table {
			return true
		}
	}
	return false
}
