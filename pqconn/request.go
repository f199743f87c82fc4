package pqconn

// Request is the closed set of operations a Conn can issue. Each variant maps
// onto one transport primitive; Do uses the blocking form and Send the
// non-blocking form. The interface is sealed so the dispatch type switches
// stay exhaustive.
type Request interface {
	request()
}

// Query executes sql via the simple query protocol. sql may contain multiple
// statements.
type Query struct {
	SQL string
}

// QueryParams executes a single parameterized statement. Params are positional
// ($1, $2, ...) text values; a nil element is the SQL NULL.
type QueryParams struct {
	SQL    string
	Params [][]byte
}

// Prepare creates a named server-side prepared statement.
type Prepare struct {
	Name string
	SQL  string
}

// ExecPrepared executes a previously prepared statement. A nil params element
// is the SQL NULL.
type ExecPrepared struct {
	Name   string
	Params [][]byte
}

// DescribePrepared requests the parameter and row description of a prepared
// statement.
type DescribePrepared struct {
	Name string
}

// DescribePortal requests the row description of an open portal.
type DescribePortal struct {
	Name string
}

func (Query) request()            {}
func (QueryParams) request()      {}
func (Prepare) request()          {}
func (ExecPrepared) request()     {}
func (DescribePrepared) request() {}
func (DescribePortal) request()   {}
