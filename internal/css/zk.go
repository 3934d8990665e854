package css

import (
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZKKV is the durable CSS back end: a thin adapter over a ZooKeeper
// ensemble that implements the same KV contract as MemoryKV, including
// implicit ancestor creation and KeyExists/NoSuchKey semantics that the
// raw ZooKeeper client does not provide on its own.
type ZKKV struct {
	conn *zk.Conn
	acl  []zk.ACL
}

// DialZK connects to a ZooKeeper ensemble and returns a ready ZKKV. The
// caller owns the returned connection's lifetime via Close.
func DialZK(servers []string, sessionTimeout time.Duration) (*ZKKV, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Msg: err.Error()}
	}
	return &ZKKV{conn: conn, acl: zk.WorldACL(zk.PermAll)}, nil
}

// Close releases the underlying ZooKeeper session.
func (z *ZKKV) Close() { z.conn.Close() }

func classifyZKErr(k string, err error) error {
	switch err {
	case zk.ErrNoNode:
		return noSuchKeyErr(k)
	case zk.ErrNodeExists:
		return keyExistsErr(k)
	case zk.ErrNoAuth, zk.ErrAuthFailed, zk.ErrInvalidACL:
		return &Error{Kind: KindAuth, Key: k, Msg: err.Error()}
	case zk.ErrConnectionClosed, zk.ErrSessionExpired, zk.ErrSessionMoved:
		return &Error{Kind: KindConnection, Key: k, Msg: err.Error()}
	default:
		return &Error{Kind: KindInternal, Key: k, Msg: err.Error()}
	}
}

// ensureAncestors creates every missing ancestor of k with an empty value,
// mirroring the implicit-ancestor-creation contract of Create/Set.
func (z *ZKKV) ensureAncestors(k string) error {
	for _, anc := range ancestors(k) {
		exists, _, err := z.conn.Exists(anc)
		if err != nil {
			return classifyZKErr(anc, err)
		}
		if !exists {
			if _, err := z.conn.Create(anc, nil, 0, z.acl); err != nil && err != zk.ErrNodeExists {
				return classifyZKErr(anc, err)
			}
		}
	}
	return nil
}

// Create implements KV.
func (z *ZKKV) Create(k, v string) error {
	if err := ValidateKey(k); err != nil {
		return err
	}
	if err := z.ensureAncestors(k); err != nil {
		return err
	}
	if _, err := z.conn.Create(k, []byte(v), 0, z.acl); err != nil {
		return classifyZKErr(k, err)
	}
	return nil
}

// Set implements KV.
func (z *ZKKV) Set(k, v string) error {
	if err := ValidateKey(k); err != nil {
		return err
	}
	if err := z.ensureAncestors(k); err != nil {
		return err
	}
	exists, stat, err := z.conn.Exists(k)
	if err != nil {
		return classifyZKErr(k, err)
	}
	if !exists {
		if _, err := z.conn.Create(k, []byte(v), 0, z.acl); err != nil && err != zk.ErrNodeExists {
			return classifyZKErr(k, err)
		}
		return nil
	}
	if _, err := z.conn.Set(k, []byte(v), stat.Version); err != nil {
		return classifyZKErr(k, err)
	}
	return nil
}

// Exists implements KV.
func (z *ZKKV) Exists(k string) (bool, error) {
	if err := ValidateKey(k); err != nil {
		return false, err
	}
	ok, _, err := z.conn.Exists(k)
	if err != nil {
		return false, classifyZKErr(k, err)
	}
	return ok, nil
}

// Get implements KV.
func (z *ZKKV) Get(k string, defaultVal ...string) (string, error) {
	if err := ValidateKey(k); err != nil {
		return "", err
	}
	data, _, err := z.conn.Get(k)
	if err != nil {
		if err == zk.ErrNoNode && len(defaultVal) > 0 {
			return defaultVal[0], nil
		}
		return "", classifyZKErr(k, err)
	}
	return string(data), nil
}

// GetChildren implements KV.
func (z *ZKKV) GetChildren(k string) ([]string, error) {
	if err := ValidateKey(k); err != nil {
		return nil, err
	}
	children, _, err := z.conn.Children(k)
	if err != nil {
		return nil, classifyZKErr(k, err)
	}
	return children, nil
}

// Delete implements KV; deleting an absent key is a no-op.
func (z *ZKKV) Delete(k string) error {
	if err := ValidateKey(k); err != nil {
		return err
	}
	_, stat, err := z.conn.Exists(k)
	if err != nil {
		return classifyZKErr(k, err)
	}
	if stat == nil {
		return nil
	}
	children, _, err := z.conn.Children(k)
	if err != nil {
		return classifyZKErr(k, err)
	}
	for _, c := range children {
		childKey := strings.TrimSuffix(k, "/") + "/" + c
		if err := z.Delete(childKey); err != nil {
			return err
		}
	}
	if err := z.conn.Delete(k, stat.Version); err != nil && err != zk.ErrNoNode {
		return classifyZKErr(k, err)
	}
	return nil
}

var _ KV = (*MemoryKV)(nil)
var _ KV = (*ZKKV)(nil)
