package css

import (
	"sort"
	"strconv"
)

// VersionKey is the reserved key holding the catalog schema version.
const VersionKey = "/css_meta/version"

// Facade is the higher-level, schema-aware view over a raw KV back end.
// Constructing one enforces a version gate: the store must carry a
// matching /css_meta/version or construction fails.
type Facade struct {
	kv KV
}

// NewFacade reads VersionKey from kv and fails with a VersionMissing or
// VersionMismatch Error unless it is present and equal to expectedVersion.
func NewFacade(kv KV, expectedVersion string) (*Facade, error) {
	v, err := kv.Get(VersionKey)
	if err != nil {
		var cssErr *Error
		if asErr(err, &cssErr) && cssErr.Kind == KindNoSuchKey {
			return nil, &Error{Kind: KindVersionMissing, Key: VersionKey, Msg: "css_meta/version is absent"}
		}
		return nil, err
	}
	if v != expectedVersion {
		return nil, &Error{Kind: KindVersionMismatch, Key: VersionKey,
			Msg: "have " + v + ", want " + expectedVersion}
	}
	return &Facade{kv: kv}, nil
}

func asErr(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}

func dbKey(db string) string           { return "/DBS/" + db }
func tableKey(db, t string) string     { return dbKey(db) + "/TABLES/" + t }
func partKey(db, t string) string      { return tableKey(db, t) + "/partitioning" }
func matchKey(db, t string) string     { return tableKey(db, t) + "/match" }
func dbPartKey(db string) string       { return dbKey(db) + "/partitioning" }

// ContainsDb reports whether db is registered.
func (f *Facade) ContainsDb(db string) (bool, error) {
	return f.kv.Exists(dbKey(db))
}

// ContainsTable reports whether table t is registered under db.
func (f *Facade) ContainsTable(db, t string) (bool, error) {
	return f.kv.Exists(tableKey(db, t))
}

// GetChunkLevel returns 0 (not partitioned), 1 (chunked), or 2
// (sub-chunked) for table t in db.
func (f *Facade) GetChunkLevel(db, t string) (int, error) {
	exists, err := f.kv.Exists(partKey(db, t))
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	sub, err := f.kv.Get(partKey(db, t)+"/subChunks", "0")
	if err != nil {
		return 0, err
	}
	if sub == "1" {
		return 2, nil
	}
	return 1, nil
}

// TableIsChunked reports whether t is partitioned at all (level ≥ 1).
func (f *Facade) TableIsChunked(db, t string) (bool, error) {
	level, err := f.GetChunkLevel(db, t)
	return level >= 1, err
}

// TableIsSubChunked reports whether t is partitioned into sub-chunks
// (level == 2).
func (f *Facade) TableIsSubChunked(db, t string) (bool, error) {
	level, err := f.GetChunkLevel(db, t)
	return level == 2, err
}

// GetAllowedDbs returns every registered database name, sorted.
func (f *Facade) GetAllowedDbs() ([]string, error) {
	dbs, err := f.kv.GetChildren("/DBS")
	if err != nil {
		var cssErr *Error
		if asErr(err, &cssErr) && cssErr.Kind == KindNoSuchKey {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(dbs)
	return dbs, nil
}

func (f *Facade) tablesAtLevel(db string, minLevel, maxLevel int) ([]string, error) {
	tables, err := f.kv.GetChildren(dbKey(db) + "/TABLES")
	if err != nil {
		var cssErr *Error
		if asErr(err, &cssErr) && cssErr.Kind == KindNoSuchKey {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, t := range tables {
		level, err := f.GetChunkLevel(db, t)
		if err != nil {
			return nil, err
		}
		if level >= minLevel && level <= maxLevel {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out, nil
}

// GetChunkedTables returns every table in db with chunk level ≥ 1.
func (f *Facade) GetChunkedTables(db string) ([]string, error) {
	return f.tablesAtLevel(db, 1, 2)
}

// GetSubChunkedTables returns every table in db with chunk level == 2.
func (f *Facade) GetSubChunkedTables(db string) ([]string, error) {
	return f.tablesAtLevel(db, 2, 2)
}

// PartitionCols holds a table's partitioning column names; any may be
// empty.
type PartitionCols struct {
	LonCol, LatCol, SecIndexCol string
}

// GetPartitionCols returns the longitude, latitude, and secondary-index
// column names for a partitioned table.
func (f *Facade) GetPartitionCols(db, t string) (PartitionCols, error) {
	base := partKey(db, t)
	lon, err := f.kv.Get(base+"/lonCol", "")
	if err != nil {
		return PartitionCols{}, err
	}
	lat, err := f.kv.Get(base+"/latCol", "")
	if err != nil {
		return PartitionCols{}, err
	}
	sec, err := f.kv.Get(base+"/secIndexCol", "")
	if err != nil {
		return PartitionCols{}, err
	}
	return PartitionCols{LonCol: lon, LatCol: lat, SecIndexCol: sec}, nil
}

// GetKeyColumn returns the secondary-index (key) column name for t.
func (f *Facade) GetKeyColumn(db, t string) (string, error) {
	return f.kv.Get(partKey(db, t)+"/secIndexCol", "")
}

// Striping describes a database's stripe/sub-stripe counts.
type Striping struct {
	Stripes, SubStripes int
}

// GetDbStriping returns the (stripes, subStripes) pair registered for db.
func (f *Facade) GetDbStriping(db string) (Striping, error) {
	s, err := f.kv.Get(dbPartKey(db)+"/stripes", "0")
	if err != nil {
		return Striping{}, err
	}
	ss, err := f.kv.Get(dbPartKey(db)+"/subStripes", "0")
	if err != nil {
		return Striping{}, err
	}
	stripes, convErr := strconv.Atoi(s)
	if convErr != nil {
		return Striping{}, &Error{Kind: KindInternal, Key: db, Msg: "non-numeric stripes value"}
	}
	subStripes, convErr := strconv.Atoi(ss)
	if convErr != nil {
		return Striping{}, &Error{Kind: KindInternal, Key: db, Msg: "non-numeric sub-stripes value"}
	}
	return Striping{Stripes: stripes, SubStripes: subStripes}, nil
}

// MatchTableParams describes the two director tables and columns a match
// table relates, plus its flag column.
type MatchTableParams struct {
	DirTable1, DirColName1 string
	DirTable2, DirColName2 string
	FlagColName            string
}

// GetMatchTableParams returns the match-table relationship for t. Tables
// not marked as match tables return the zero value with no error; tables
// marked as match but missing any required sub-key fail with an Internal
// Error.
func (f *Facade) GetMatchTableParams(db, t string) (MatchTableParams, error) {
	base := matchKey(db, t)
	marked, err := f.kv.Get(base+"/isMatch", "0")
	if err != nil {
		return MatchTableParams{}, err
	}
	if marked != "1" {
		return MatchTableParams{}, nil
	}
	required := []string{"dirTable1", "dirColName1", "dirTable2", "dirColName2", "flagColName"}
	values := make(map[string]string, len(required))
	for _, key := range required {
		v, err := f.kv.Get(base + "/" + key)
		if err != nil {
			var cssErr *Error
			if asErr(err, &cssErr) && cssErr.Kind == KindNoSuchKey {
				return MatchTableParams{}, &Error{Kind: KindInternal, Key: base + "/" + key,
					Msg: "match table missing required sub-key"}
			}
			return MatchTableParams{}, err
		}
		values[key] = v
	}
	return MatchTableParams{
		DirTable1:   values["dirTable1"],
		DirColName1: values["dirColName1"],
		DirTable2:   values["dirTable2"],
		DirColName2: values["dirColName2"],
		FlagColName: values["flagColName"],
	}, nil
}
