package amm

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lpleverage/native/amm/v3math"
)

var (
	ErrPositionNotFound      = errors.New("amm: position not found")
	ErrNotOwner              = errors.New("amm: caller is not the position owner")
	ErrNotOwnerOrApproved    = errors.New("amm: caller is not owner or approved")
	ErrInvalidTickRange      = errors.New("amm: invalid tick range")
	ErrZeroLiquidity         = errors.New("amm: zero liquidity")
	ErrInsufficientLiquidity = errors.New("amm: insufficient position liquidity")
	ErrPriceSlippageCheck    = errors.New("amm: price slippage check")
)

// Position is a concentrated liquidity position owned by an account.
type Position struct {
	TokenID     uint64
	Owner       common.Address
	Operator    common.Address
	Token0      common.Address
	Token1      common.Address
	Fee         uint32
	TickLower   int
	TickUpper   int
	Liquidity   *big.Int
	TokensOwed0 *big.Int
	TokensOwed1 *big.Int
}

// Ticks are stored bit-cast to uint32 since RLP has no signed integers.
type storedPosition struct {
	Owner       common.Address
	Operator    common.Address
	Token0      common.Address
	Token1      common.Address
	Fee         uint32
	TickLower   uint32
	TickUpper   uint32
	Liquidity   *big.Int
	TokensOwed0 *big.Int
	TokensOwed1 *big.Int
}

func newStoredPosition(p *Position) storedPosition {
	return storedPosition{
		Owner:       p.Owner,
		Operator:    p.Operator,
		Token0:      p.Token0,
		Token1:      p.Token1,
		Fee:         p.Fee,
		TickLower:   uint32(int32(p.TickLower)),
		TickUpper:   uint32(int32(p.TickUpper)),
		Liquidity:   p.Liquidity,
		TokensOwed0: p.TokensOwed0,
		TokensOwed1: p.TokensOwed1,
	}
}

func (s storedPosition) toPosition(id uint64) *Position {
	return &Position{
		TokenID:     id,
		Owner:       s.Owner,
		Operator:    s.Operator,
		Token0:      s.Token0,
		Token1:      s.Token1,
		Fee:         s.Fee,
		TickLower:   int(int32(s.TickLower)),
		TickUpper:   int(int32(s.TickUpper)),
		Liquidity:   orZero(s.Liquidity),
		TokensOwed0: orZero(s.TokensOwed0),
		TokensOwed1: orZero(s.TokensOwed1),
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

type MintParams struct {
	Token0         common.Address
	Token1         common.Address
	Fee            uint32
	TickLower      int
	TickUpper      int
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Recipient      common.Address
}

type MintResult struct {
	TokenID   uint64
	Liquidity *big.Int
	Amount0   *big.Int
	Amount1   *big.Int
}

type IncreaseLiquidityParams struct {
	TokenID        uint64
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
}

type DecreaseLiquidityParams struct {
	TokenID    uint64
	Liquidity  *big.Int
	Amount0Min *big.Int
	Amount1Min *big.Int
}

type CollectParams struct {
	TokenID    uint64
	Recipient  common.Address
	Amount0Max *big.Int
	Amount1Max *big.Int
}

// PositionManager is the ledger of liquidity positions. Token payments are
// pulled from callers with TransferFrom, so callers approve the manager's
// address first.
type PositionManager struct {
	address  common.Address
	exchange *Exchange
	store    Storage
	tokens   TokenLedger
}

func NewPositionManager(address common.Address, exchange *Exchange, store Storage, tokens TokenLedger) *PositionManager {
	return &PositionManager{address: address, exchange: exchange, store: store, tokens: tokens}
}

func (m *PositionManager) Address() common.Address {
	if m == nil {
		return common.Address{}
	}
	return m.address
}

// Positions returns the position with the given id.
func (m *PositionManager) Positions(id uint64) (*Position, error) {
	var record storedPosition
	ok, err := m.store.KVGet(positionKey(id), &record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	return record.toPosition(id), nil
}

func (m *PositionManager) OwnerOf(id uint64) (common.Address, error) {
	pos, err := m.Positions(id)
	if err != nil {
		return common.Address{}, err
	}
	return pos.Owner, nil
}

func (m *PositionManager) GetApproved(id uint64) (common.Address, error) {
	pos, err := m.Positions(id)
	if err != nil {
		return common.Address{}, err
	}
	return pos.Operator, nil
}

func (m *PositionManager) writePosition(pos *Position) error {
	return m.store.KVPut(positionKey(pos.TokenID), newStoredPosition(pos))
}

func (m *PositionManager) authorized(caller common.Address, pos *Position) error {
	if caller != pos.Owner && caller != pos.Operator {
		return ErrNotOwnerOrApproved
	}
	return nil
}

// Approve lets operator manage the position. Only the owner may approve.
func (m *PositionManager) Approve(caller, operator common.Address, id uint64) error {
	pos, err := m.Positions(id)
	if err != nil {
		return err
	}
	if caller != pos.Owner {
		return ErrNotOwner
	}
	pos.Operator = operator
	return m.writePosition(pos)
}

// TransferFrom moves ownership of the position and clears its approval.
func (m *PositionManager) TransferFrom(caller, from, to common.Address, id uint64) error {
	pos, err := m.Positions(id)
	if err != nil {
		return err
	}
	if pos.Owner != from {
		return ErrNotOwner
	}
	if err := m.authorized(caller, pos); err != nil {
		return err
	}
	pos.Owner = to
	pos.Operator = common.Address{}
	return m.writePosition(pos)
}

func tickRange(lower, upper int) (*uint256.Int, *uint256.Int, error) {
	if lower >= upper {
		return nil, nil, ErrInvalidTickRange
	}
	sqrtLower, err := v3math.GetSqrtRatioAtTick(lower)
	if err != nil {
		return nil, nil, err
	}
	sqrtUpper, err := v3math.GetSqrtRatioAtTick(upper)
	if err != nil {
		return nil, nil, err
	}
	return sqrtLower, sqrtUpper, nil
}

// amountsForLiquidityDelta returns the token amounts moved when liquidity is
// added (roundUp) or removed at the current price.
func amountsForLiquidityDelta(price, sqrtLower, sqrtUpper, liquidity *uint256.Int, roundUp bool) (*big.Int, *big.Int, error) {
	amount0, amount1 := new(uint256.Int), new(uint256.Int)
	var err error
	switch {
	case price.Lt(sqrtLower):
		amount0, err = v3math.GetAmount0Delta(sqrtLower, sqrtUpper, liquidity, roundUp)
	case price.Lt(sqrtUpper):
		if amount0, err = v3math.GetAmount0Delta(price, sqrtUpper, liquidity, roundUp); err != nil {
			return nil, nil, err
		}
		amount1, err = v3math.GetAmount1Delta(sqrtLower, price, liquidity, roundUp)
	default:
		amount1, err = v3math.GetAmount1Delta(sqrtLower, sqrtUpper, liquidity, roundUp)
	}
	if err != nil {
		return nil, nil, err
	}
	return amount0.ToBig(), amount1.ToBig(), nil
}

func belowMin(amount, min *big.Int) bool {
	return min != nil && amount.Cmp(min) < 0
}

func (m *PositionManager) addLiquidity(payer common.Address, pool *Pool, sqrtLower, sqrtUpper *uint256.Int, amount0Desired, amount1Desired *big.Int) (*big.Int, *big.Int, *big.Int, error) {
	desired0, overflow0 := uint256.FromBig(orZero(amount0Desired))
	desired1, overflow1 := uint256.FromBig(orZero(amount1Desired))
	if overflow0 || overflow1 || orZero(amount0Desired).Sign() < 0 || orZero(amount1Desired).Sign() < 0 {
		return nil, nil, nil, fmt.Errorf("amm: invalid desired amounts")
	}
	price := uint256.MustFromBig(pool.SqrtPriceX96)
	liquidity, err := v3math.GetLiquidityForAmounts(price, sqrtLower, sqrtUpper, desired0, desired1)
	if err != nil {
		return nil, nil, nil, err
	}
	if liquidity.IsZero() {
		return nil, nil, nil, ErrZeroLiquidity
	}
	amount0, amount1, err := amountsForLiquidityDelta(price, sqrtLower, sqrtUpper, liquidity, true)
	if err != nil {
		return nil, nil, nil, err
	}
	if amount0.Sign() > 0 {
		if err := m.tokens.TransferFrom(pool.Token0, m.address, payer, pool.Address, amount0); err != nil {
			return nil, nil, nil, fmt.Errorf("amm: pay token0: %w", err)
		}
	}
	if amount1.Sign() > 0 {
		if err := m.tokens.TransferFrom(pool.Token1, m.address, payer, pool.Address, amount1); err != nil {
			return nil, nil, nil, fmt.Errorf("amm: pay token1: %w", err)
		}
	}
	added := liquidity.ToBig()
	if err := m.exchange.updateActiveLiquidity(pool.Address, sqrtLower, sqrtUpper, added); err != nil {
		return nil, nil, nil, err
	}
	return added, amount0, amount1, nil
}

// Mint opens a new position for params.Recipient funded by caller.
func (m *PositionManager) Mint(caller common.Address, params MintParams) (*MintResult, error) {
	token0, token1 := SortTokens(params.Token0, params.Token1)
	amount0Desired, amount1Desired := params.Amount0Desired, params.Amount1Desired
	if token0 != params.Token0 {
		amount0Desired, amount1Desired = amount1Desired, amount0Desired
	}
	pool, err := m.exchange.PoolFor(token0, token1, params.Fee)
	if err != nil {
		return nil, err
	}
	sqrtLower, sqrtUpper, err := tickRange(params.TickLower, params.TickUpper)
	if err != nil {
		return nil, err
	}
	liquidity, amount0, amount1, err := m.addLiquidity(caller, pool, sqrtLower, sqrtUpper, amount0Desired, amount1Desired)
	if err != nil {
		return nil, err
	}

	var next uint64
	if _, err := m.store.KVGet(positionCounterKey, &next); err != nil {
		return nil, err
	}
	next++
	if err := m.store.KVPut(positionCounterKey, next); err != nil {
		return nil, err
	}
	pos := &Position{
		TokenID:     next,
		Owner:       params.Recipient,
		Token0:      token0,
		Token1:      token1,
		Fee:         params.Fee,
		TickLower:   params.TickLower,
		TickUpper:   params.TickUpper,
		Liquidity:   liquidity,
		TokensOwed0: big.NewInt(0),
		TokensOwed1: big.NewInt(0),
	}
	if err := m.writePosition(pos); err != nil {
		return nil, err
	}
	return &MintResult{TokenID: next, Liquidity: liquidity, Amount0: amount0, Amount1: amount1}, nil
}

// IncreaseLiquidity adds liquidity to an existing position. Anyone may fund a
// position.
func (m *PositionManager) IncreaseLiquidity(caller common.Address, params IncreaseLiquidityParams) (*big.Int, *big.Int, *big.Int, error) {
	pos, err := m.Positions(params.TokenID)
	if err != nil {
		return nil, nil, nil, err
	}
	pool, err := m.exchange.PoolFor(pos.Token0, pos.Token1, pos.Fee)
	if err != nil {
		return nil, nil, nil, err
	}
	sqrtLower, sqrtUpper, err := tickRange(pos.TickLower, pos.TickUpper)
	if err != nil {
		return nil, nil, nil, err
	}
	liquidity, amount0, amount1, err := m.addLiquidity(caller, pool, sqrtLower, sqrtUpper, params.Amount0Desired, params.Amount1Desired)
	if err != nil {
		return nil, nil, nil, err
	}
	if belowMin(amount0, params.Amount0Min) || belowMin(amount1, params.Amount1Min) {
		return nil, nil, nil, ErrPriceSlippageCheck
	}
	pos.Liquidity = new(big.Int).Add(pos.Liquidity, liquidity)
	if err := m.writePosition(pos); err != nil {
		return nil, nil, nil, err
	}
	return liquidity, amount0, amount1, nil
}

// DecreaseLiquidity burns liquidity from a position and credits the released
// tokens to the position's owed balances.
func (m *PositionManager) DecreaseLiquidity(caller common.Address, params DecreaseLiquidityParams) (*big.Int, *big.Int, error) {
	pos, err := m.Positions(params.TokenID)
	if err != nil {
		return nil, nil, err
	}
	if err := m.authorized(caller, pos); err != nil {
		return nil, nil, err
	}
	if params.Liquidity == nil || params.Liquidity.Sign() <= 0 {
		return nil, nil, ErrZeroLiquidity
	}
	if params.Liquidity.Cmp(pos.Liquidity) > 0 {
		return nil, nil, ErrInsufficientLiquidity
	}
	pool, err := m.exchange.PoolFor(pos.Token0, pos.Token1, pos.Fee)
	if err != nil {
		return nil, nil, err
	}
	sqrtLower, sqrtUpper, err := tickRange(pos.TickLower, pos.TickUpper)
	if err != nil {
		return nil, nil, err
	}
	amount0, amount1, err := amountsForLiquidityDelta(uint256.MustFromBig(pool.SqrtPriceX96), sqrtLower, sqrtUpper, uint256.MustFromBig(params.Liquidity), false)
	if err != nil {
		return nil, nil, err
	}
	if belowMin(amount0, params.Amount0Min) || belowMin(amount1, params.Amount1Min) {
		return nil, nil, ErrPriceSlippageCheck
	}
	if err := m.exchange.updateActiveLiquidity(pool.Address, sqrtLower, sqrtUpper, new(big.Int).Neg(params.Liquidity)); err != nil {
		return nil, nil, err
	}
	pos.Liquidity = new(big.Int).Sub(pos.Liquidity, params.Liquidity)
	pos.TokensOwed0 = new(big.Int).Add(pos.TokensOwed0, amount0)
	pos.TokensOwed1 = new(big.Int).Add(pos.TokensOwed1, amount1)
	if err := m.writePosition(pos); err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// Collect pays up to the requested amounts of the position's owed tokens to
// the recipient.
func (m *PositionManager) Collect(caller common.Address, params CollectParams) (*big.Int, *big.Int, error) {
	pos, err := m.Positions(params.TokenID)
	if err != nil {
		return nil, nil, err
	}
	if err := m.authorized(caller, pos); err != nil {
		return nil, nil, err
	}
	amount0 := capAmount(pos.TokensOwed0, params.Amount0Max)
	amount1 := capAmount(pos.TokensOwed1, params.Amount1Max)
	poolAddr := ComputePoolAddress(pos.Token0, pos.Token1, pos.Fee)
	if amount0.Sign() > 0 {
		if err := m.tokens.Transfer(pos.Token0, poolAddr, params.Recipient, amount0); err != nil {
			return nil, nil, fmt.Errorf("amm: collect token0: %w", err)
		}
	}
	if amount1.Sign() > 0 {
		if err := m.tokens.Transfer(pos.Token1, poolAddr, params.Recipient, amount1); err != nil {
			return nil, nil, fmt.Errorf("amm: collect token1: %w", err)
		}
	}
	pos.TokensOwed0 = new(big.Int).Sub(pos.TokensOwed0, amount0)
	pos.TokensOwed1 = new(big.Int).Sub(pos.TokensOwed1, amount1)
	if err := m.writePosition(pos); err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

func capAmount(owed, max *big.Int) *big.Int {
	if max == nil || max.Cmp(owed) >= 0 {
		return new(big.Int).Set(owed)
	}
	return new(big.Int).Set(max)
}
