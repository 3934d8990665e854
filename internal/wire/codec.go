package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// This codec is a hand-rolled, length-prefixed binary encoding for the
// coordinator/worker message shapes. It is deliberately not
// wire-compatible with any particular protobuf runtime output — only
// the field shapes are preserved — so there is no dependency on a
// generated protobuf runtime.

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) { writeUint64(buf, uint64(v)) }
func writeInt32(buf *bytes.Buffer, v int32) { writeUint32(buf, uint32(v)) }

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

type reader struct {
	b   []byte
	pos int
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) err() error {
	return fmt.Errorf("wire: truncated message at offset %d of %d", r.pos, len(r.b))
}

func (r *reader) readUint32() (uint32, error) {
	if r.pos+4 > len(r.b) {
		return 0, r.err()
	}
	v := binary.BigEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) readUint64() (uint64, error) {
	if r.pos+8 > len(r.b) {
		return 0, r.err()
	}
	v := binary.BigEndian.Uint64(r.b[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) readInt64() (int64, error) {
	v, err := r.readUint64()
	return int64(v), err
}

func (r *reader) readInt32() (int32, error) {
	v, err := r.readUint32()
	return int32(v), err
}

func (r *reader) readBool() (bool, error) {
	if r.pos+1 > len(r.b) {
		return false, r.err()
	}
	v := r.b[r.pos] != 0
	r.pos++
	return v, nil
}

func (r *reader) readString() (string, error) {
	n, err := r.readUint32()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.b) {
		return "", r.err()
	}
	s := string(r.b[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *reader) readBytes() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.b) {
		return nil, r.err()
	}
	out := make([]byte, n)
	copy(out, r.b[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

// Marshal encodes a ProtoHeader.
func (h ProtoHeader) Marshal() []byte {
	var buf bytes.Buffer
	writeUint32(&buf, h.Size)
	buf.Write(h.MD5[:])
	writeString(&buf, h.Wname)
	writeBool(&buf, h.LargeResult)
	writeBool(&buf, h.EndNoData)
	return buf.Bytes()
}

// UnmarshalProtoHeader decodes a ProtoHeader, returning HeaderImportError
// on any structural failure.
func UnmarshalProtoHeader(b []byte) (ProtoHeader, error) {
	r := newReader(b)
	var h ProtoHeader
	size, err := r.readUint32()
	if err != nil {
		return h, HeaderImportError{Reason: err.Error()}
	}
	if r.pos+16 > len(r.b) {
		return h, HeaderImportError{Reason: "truncated md5"}
	}
	copy(h.MD5[:], r.b[r.pos:r.pos+16])
	r.pos += 16
	wname, err := r.readString()
	if err != nil {
		return h, HeaderImportError{Reason: err.Error()}
	}
	large, err := r.readBool()
	if err != nil {
		return h, HeaderImportError{Reason: err.Error()}
	}
	end, err := r.readBool()
	if err != nil {
		return h, HeaderImportError{Reason: err.Error()}
	}
	h.Size = size
	h.Wname = wname
	h.LargeResult = large
	h.EndNoData = end
	return h, nil
}

// Marshal encodes a TaskMsg.
func (t TaskMsg) Marshal() []byte {
	var buf bytes.Buffer
	writeInt64(&buf, t.Session)
	writeString(&buf, t.Db)
	writeInt64(&buf, t.ChunkID)
	writeString(&buf, t.User)
	writeUint32(&buf, uint32(len(t.Fragments)))
	for _, f := range t.Fragments {
		writeUint32(&buf, uint32(len(f.Queries)))
		for _, q := range f.Queries {
			writeString(&buf, q)
		}
		writeString(&buf, f.ResultTable)
		if f.Subchunks == nil {
			writeBool(&buf, false)
		} else {
			writeBool(&buf, true)
			writeUint32(&buf, uint32(len(f.Subchunks.Tables)))
			for _, tbl := range f.Subchunks.Tables {
				writeString(&buf, tbl)
			}
			writeUint32(&buf, uint32(len(f.Subchunks.IDs)))
			for _, id := range f.Subchunks.IDs {
				writeInt64(&buf, id)
			}
		}
	}
	return buf.Bytes()
}

// UnmarshalTaskMsg decodes a TaskMsg.
func UnmarshalTaskMsg(b []byte) (TaskMsg, error) {
	r := newReader(b)
	var t TaskMsg
	var err error
	if t.Session, err = r.readInt64(); err != nil {
		return t, err
	}
	if t.Db, err = r.readString(); err != nil {
		return t, err
	}
	if t.ChunkID, err = r.readInt64(); err != nil {
		return t, err
	}
	if t.User, err = r.readString(); err != nil {
		return t, err
	}
	nFrag, err := r.readUint32()
	if err != nil {
		return t, err
	}
	t.Fragments = make([]Fragment, nFrag)
	for i := range t.Fragments {
		nQ, err := r.readUint32()
		if err != nil {
			return t, err
		}
		queries := make([]string, nQ)
		for j := range queries {
			if queries[j], err = r.readString(); err != nil {
				return t, err
			}
		}
		resultTable, err := r.readString()
		if err != nil {
			return t, err
		}
		hasSub, err := r.readBool()
		if err != nil {
			return t, err
		}
		var sub *Subchunks
		if hasSub {
			sub = &Subchunks{}
			nTables, err := r.readUint32()
			if err != nil {
				return t, err
			}
			sub.Tables = make([]string, nTables)
			for k := range sub.Tables {
				if sub.Tables[k], err = r.readString(); err != nil {
					return t, err
				}
			}
			nIDs, err := r.readUint32()
			if err != nil {
				return t, err
			}
			sub.IDs = make([]int64, nIDs)
			for k := range sub.IDs {
				if sub.IDs[k], err = r.readInt64(); err != nil {
					return t, err
				}
			}
		}
		t.Fragments[i] = Fragment{Queries: queries, ResultTable: resultTable, Subchunks: sub}
	}
	return t, nil
}

// Marshal encodes a Result.
func (res Result) Marshal() []byte {
	var buf bytes.Buffer
	writeInt64(&buf, res.Session)
	writeInt64(&buf, res.QueryID)
	writeUint32(&buf, uint32(len(res.RowSchema.Columns)))
	for _, c := range res.RowSchema.Columns {
		writeString(&buf, c)
	}
	writeUint32(&buf, uint32(len(res.Row)))
	for _, row := range res.Row {
		writeUint32(&buf, uint32(len(row.Column)))
		for _, col := range row.Column {
			writeBytes(&buf, col)
		}
		writeUint32(&buf, uint32(len(row.IsNull)))
		for _, n := range row.IsNull {
			writeBool(&buf, n)
		}
	}
	writeUint64(&buf, res.RowCount)
	writeUint64(&buf, res.TransmitSize)
	writeInt32(&buf, res.ErrorCode)
	writeString(&buf, res.ErrorMsg)
	writeBool(&buf, res.Continues)
	return buf.Bytes()
}

// UnmarshalResult decodes a Result.
func UnmarshalResult(b []byte) (Result, error) {
	r := newReader(b)
	var res Result
	var err error
	if res.Session, err = r.readInt64(); err != nil {
		return res, err
	}
	if res.QueryID, err = r.readInt64(); err != nil {
		return res, err
	}
	nCols, err := r.readUint32()
	if err != nil {
		return res, err
	}
	res.RowSchema.Columns = make([]string, nCols)
	for i := range res.RowSchema.Columns {
		if res.RowSchema.Columns[i], err = r.readString(); err != nil {
			return res, err
		}
	}
	nRows, err := r.readUint32()
	if err != nil {
		return res, err
	}
	res.Row = make([]RowBundle, nRows)
	for i := range res.Row {
		nCol, err := r.readUint32()
		if err != nil {
			return res, err
		}
		cols := make([][]byte, nCol)
		for j := range cols {
			if cols[j], err = r.readBytes(); err != nil {
				return res, err
			}
		}
		nNull, err := r.readUint32()
		if err != nil {
			return res, err
		}
		isNull := make([]bool, nNull)
		for j := range isNull {
			if isNull[j], err = r.readBool(); err != nil {
				return res, err
			}
		}
		res.Row[i] = RowBundle{Column: cols, IsNull: isNull}
	}
	if res.RowCount, err = r.readUint64(); err != nil {
		return res, err
	}
	if res.TransmitSize, err = r.readUint64(); err != nil {
		return res, err
	}
	if res.ErrorCode, err = r.readInt32(); err != nil {
		return res, err
	}
	if res.ErrorMsg, err = r.readString(); err != nil {
		return res, err
	}
	if res.Continues, err = r.readBool(); err != nil {
		return res, err
	}
	return res, nil
}
