package smcrypto

import (
	"crypto/elliptic"
	"math/big"

	"filippo.io/nistec"
)

// nistPoint is the method set shared by the filippo.io/nistec point types.
type nistPoint[T any] interface {
	*T
	Bytes() []byte
	SetBytes(b []byte) (*T, error)
	SetGenerator() *T
	Add(p1, p2 *T) *T
	ScalarMult(q *T, scalar []byte) (*T, error)
	ScalarBaseMult(scalar []byte) (*T, error)
}

// nistGroup runs NIST prime curves on the constant-time nistec backends.
type nistGroup[T any, P nistPoint[T]] struct {
	name     string
	params   *elliptic.CurveParams
	newPoint func() P
}

func (g nistGroup[T, P]) Name() string     { return g.name }
func (g nistGroup[T, P]) Order() *big.Int  { return g.params.N }
func (g nistGroup[T, P]) ElementLen() int  { return (g.params.BitSize + 7) / 8 }
func (g nistGroup[T, P]) ScalarLen() int   { return g.ElementLen() }
func (g nistGroup[T, P]) Generator() Point { return P(g.newPoint().SetGenerator()).Bytes() }

func (g nistGroup[T, P]) Check(b []byte) error {
	_, err := g.point(b)
	return err
}

func (g nistGroup[T, P]) point(b []byte) (*T, error) {
	if len(b) != 1+2*g.ElementLen() || b[0] != 0x04 {
		return nil, ErrInvalidPoint
	}
	p, err := g.newPoint().SetBytes(b)
	if err != nil {
		return nil, ErrInvalidPoint
	}
	return p, nil
}

func (g nistGroup[T, P]) encode(p *T) (Point, error) {
	out := P(p).Bytes()
	if len(out) == 1 {
		return nil, ErrInvalidPoint
	}
	return out, nil
}

func (g nistGroup[T, P]) ScalarMult(q Point, k []byte) (Point, error) {
	qp, err := g.point(q)
	if err != nil {
		return nil, err
	}
	s, err := padScalar(k, g.ScalarLen())
	if err != nil {
		return nil, err
	}
	r, err := g.newPoint().ScalarMult(qp, s)
	if err != nil {
		return nil, err
	}
	return g.encode(r)
}

func (g nistGroup[T, P]) ScalarBaseMult(k []byte) (Point, error) {
	s, err := padScalar(k, g.ScalarLen())
	if err != nil {
		return nil, err
	}
	r, err := g.newPoint().ScalarBaseMult(s)
	if err != nil {
		return nil, err
	}
	return g.encode(r)
}

func (g nistGroup[T, P]) Add(p, q Point) (Point, error) {
	pp, err := g.point(p)
	if err != nil {
		return nil, err
	}
	qp, err := g.point(q)
	if err != nil {
		return nil, err
	}
	return g.encode(g.newPoint().Add(pp, qp))
}

// curveGroup adapts an elliptic.Curve implementation. It serves the
// Brainpool curves, which have no nistec backend.
type curveGroup struct {
	curve elliptic.Curve
}

func (g curveGroup) Name() string    { return g.curve.Params().Name }
func (g curveGroup) Order() *big.Int { return g.curve.Params().N }
func (g curveGroup) ElementLen() int { return (g.curve.Params().BitSize + 7) / 8 }
func (g curveGroup) ScalarLen() int  { return (g.curve.Params().N.BitLen() + 7) / 8 }

func (g curveGroup) Generator() Point {
	params := g.curve.Params()
	return g.encode(params.Gx, params.Gy)
}

func (g curveGroup) Check(b []byte) error {
	_, _, err := g.decode(b)
	return err
}

func (g curveGroup) decode(b []byte) (*big.Int, *big.Int, error) {
	n := g.ElementLen()
	if len(b) != 1+2*n || b[0] != 0x04 {
		return nil, nil, ErrInvalidPoint
	}
	x := new(big.Int).SetBytes(b[1 : 1+n])
	y := new(big.Int).SetBytes(b[1+n:])
	if !g.curve.IsOnCurve(x, y) {
		return nil, nil, ErrInvalidPoint
	}
	return x, y, nil
}

func (g curveGroup) encode(x, y *big.Int) Point {
	n := g.ElementLen()
	out := make([]byte, 1+2*n)
	out[0] = 0x04
	x.FillBytes(out[1 : 1+n])
	y.FillBytes(out[1+n:])
	return out
}

func (g curveGroup) result(x, y *big.Int) (Point, error) {
	if x.Sign() == 0 && y.Sign() == 0 {
		return nil, ErrInvalidPoint
	}
	return g.encode(x, y), nil
}

func (g curveGroup) ScalarMult(q Point, k []byte) (Point, error) {
	x, y, err := g.decode(q)
	if err != nil {
		return nil, err
	}
	return g.result(g.curve.ScalarMult(x, y, k))
}

func (g curveGroup) ScalarBaseMult(k []byte) (Point, error) {
	return g.result(g.curve.ScalarBaseMult(k))
}

func (g curveGroup) Add(p, q Point) (Point, error) {
	x1, y1, err := g.decode(p)
	if err != nil {
		return nil, err
	}
	x2, y2, err := g.decode(q)
	if err != nil {
		return nil, err
	}
	return g.result(g.curve.Add(x1, y1, x2, y2))
}

var (
	groupP224 Group = nistGroup[nistec.P224Point, *nistec.P224Point]{name: "P-224", params: elliptic.P224().Params(), newPoint: nistec.NewP224Point}
	groupP256 Group = nistGroup[nistec.P256Point, *nistec.P256Point]{name: "P-256", params: elliptic.P256().Params(), newPoint: nistec.NewP256Point}
	groupP384 Group = nistGroup[nistec.P384Point, *nistec.P384Point]{name: "P-384", params: elliptic.P384().Params(), newPoint: nistec.NewP384Point}
	groupP521 Group = nistGroup[nistec.P521Point, *nistec.P521Point]{name: "P-521", params: elliptic.P521().Params(), newPoint: nistec.NewP521Point}
)
