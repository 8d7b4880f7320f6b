package rpc

import (
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"lpleverage/config"
	"lpleverage/native/leverage"
)

// call is one decoded JSON-RPC invocation. subject is the authenticated
// token subject of state-changing calls, empty when auth is off.
type call struct {
	req       *RPCRequest
	subject   string
	requestID string
}

type methodHandler func(*Server, *call) (interface{}, *RPCError)

type methodSpec struct {
	handler  methodHandler
	mutating bool
}

var leverageMethods = map[string]methodSpec{
	"leverage_borrow":                            {handler: (*Server).handleBorrow, mutating: true},
	"leverage_repay":                             {handler: (*Server).handleRepay, mutating: true},
	"leverage_takeOverDebt":                      {handler: (*Server).handleTakeOverDebt, mutating: true},
	"leverage_increaseCollateralBalance":         {handler: (*Server).handleIncreaseCollateralBalance, mutating: true},
	"leverage_updateHoldTokenDailyRate":          {handler: (*Server).handleUpdateHoldTokenDailyRate, mutating: true},
	"leverage_setSwapCallToWhitelist":            {handler: (*Server).handleSetSwapCallToWhitelist, mutating: true},
	"leverage_collectProtocol":                   {handler: (*Server).handleCollectProtocol, mutating: true},
	"leverage_updateSettings":                    {handler: (*Server).handleUpdateSettings, mutating: true},
	"leverage_getLoansInfo":                      {handler: (*Server).handleGetLoansInfo},
	"leverage_getBorrowingInfo":                  {handler: (*Server).handleGetBorrowingInfo},
	"leverage_getLenderCreditsInfo":              {handler: (*Server).handleGetLenderCreditsInfo},
	"leverage_getBorrowerDebtsInfo":              {handler: (*Server).handleGetBorrowerDebtsInfo},
	"leverage_checkDailyRateCollateral":          {handler: (*Server).handleCheckDailyRateCollateral},
	"leverage_calculateCollateralAmtForLifetime": {handler: (*Server).handleCalculateCollateralAmtForLifetime},
	"leverage_getHoldTokenDailyRateInfo":         {handler: (*Server).handleGetHoldTokenDailyRateInfo},
	"leverage_getPlatformsFeesInfo":              {handler: (*Server).handleGetPlatformsFeesInfo},
	"leverage_getLiquidationBonus":               {handler: (*Server).handleGetLiquidationBonus},
	"leverage_previewRestore":                    {handler: (*Server).handlePreviewRestore},
}

// caller resolves the from field. When the request was authenticated with
// a subject, from must match it.
func (c *call) caller(from string) (common.Address, *RPCError) {
	addr, rpcErr := parseAddress("from", from)
	if rpcErr != nil {
		return common.Address{}, rpcErr
	}
	if c.subject != "" && !strings.EqualFold(c.subject, addr.Hex()) {
		return common.Address{}, &RPCError{HTTPStatus: http.StatusForbidden, Code: codeUnauthorized, Message: "from does not match token subject"}
	}
	return addr, nil
}

// isAddressValue reports whether a settings value is written as an address
// rather than an integer.
func isAddressValue(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	return len(trimmed) == 2+2*common.AddressLength && strings.HasPrefix(trimmed, "0x")
}

func (s *Server) deadline(requested uint64) uint64 {
	if requested == 0 {
		return uint64(s.node.Now().Unix())
	}
	return requested
}

func (s *Server) logTx(c *call, caller common.Address, err error) {
	attrs := []any{
		slog.String("request_id", c.requestID),
		slog.String("method", c.req.Method),
		slog.String("from", caller.Hex()),
	}
	if err != nil {
		s.logger.Warn("leverage transaction rejected", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	s.logger.Info("leverage transaction committed", attrs...)
}

func (s *Server) handleBorrow(c *call) (interface{}, *RPCError) {
	var p borrowParamsJSON
	if rpcErr := decodeParams(c.req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := c.caller(p.From)
	if rpcErr != nil {
		return nil, rpcErr
	}
	saleToken, rpcErr := parseAddress("saleToken", p.SaleToken)
	if rpcErr != nil {
		return nil, rpcErr
	}
	holdToken, rpcErr := parseAddress("holdToken", p.HoldToken)
	if rpcErr != nil {
		return nil, rpcErr
	}
	minOut, rpcErr := parseAmount("minHoldTokenOut", p.MinHoldTokenOut, false)
	if rpcErr != nil {
		return nil, rpcErr
	}
	maxCollateral, rpcErr := parseAmount("maxCollateral", p.MaxCollateral, true)
	if rpcErr != nil {
		return nil, rpcErr
	}
	swap, rpcErr := p.ExternalSwap.toParams()
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(p.Loans) == 0 {
		return nil, invalidParams("loans required", nil)
	}
	loans := make([]leverage.LoanInfo, len(p.Loans))
	for i, loan := range p.Loans {
		liquidity, rpcErr := parseAmount("loans.liquidity", loan.Liquidity, true)
		if rpcErr != nil {
			return nil, rpcErr
		}
		loans[i] = leverage.LoanInfo{TokenID: loan.TokenID, Liquidity: liquidity}
	}
	params := leverage.BorrowParams{
		InternalSwapPoolFee: p.InternalSwapPoolFee,
		SaleToken:           saleToken,
		HoldToken:           holdToken,
		MinHoldTokenOut:     minOut,
		MaxCollateral:       maxCollateral,
		ExternalSwap:        swap,
		Loans:               loans,
	}

	var res *leverage.BorrowResult
	evts, err := s.node.Execute(func(engine *leverage.Engine) error {
		var berr error
		res, berr = engine.Borrow(caller, params, s.deadline(p.Deadline))
		return berr
	})
	s.logTx(c, caller, err)
	if err != nil {
		return nil, moduleError(err)
	}
	return borrowResult{
		BorrowingKey:        res.BorrowingKey.Hex(),
		BorrowedAmount:      formatAmount(res.BorrowedAmount),
		BorrowingCollateral: formatAmount(res.BorrowingCollateral),
		LiquidationBonus:    formatAmount(res.LiquidationBonus),
		DailyRateCollateral: formatAmount(res.DailyRateCollateral),
		FeesDebt:            formatAmount(res.FeesDebt),
		Events:              evts,
	}, nil
}

func (s *Server) handleRepay(c *call) (interface{}, *RPCError) {
	var p repayParamsJSON
	if rpcErr := decodeParams(c.req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := c.caller(p.From)
	if rpcErr != nil {
		return nil, rpcErr
	}
	key, rpcErr := parseHash("borrowingKey", p.BorrowingKey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	swap, rpcErr := p.ExternalSwap.toParams()
	if rpcErr != nil {
		return nil, rpcErr
	}
	params := leverage.RepayParams{
		IsEmergency:         p.IsEmergency,
		InternalSwapPoolFee: p.InternalSwapPoolFee,
		ExternalSwap:        swap,
		BorrowingKey:        key,
		SwapSlippageBP1000:  p.SwapSlippageBP1000,
	}

	var res *leverage.RepayResult
	evts, err := s.node.Execute(func(engine *leverage.Engine) error {
		var rerr error
		res, rerr = engine.Repay(caller, params, s.deadline(p.Deadline))
		return rerr
	})
	s.logTx(c, caller, err)
	if err != nil {
		return nil, moduleError(err)
	}
	return repayResult{
		SaleTokenOut: formatAmount(res.SaleTokenOut),
		HoldTokenOut: formatAmount(res.HoldTokenOut),
		Events:       evts,
	}, nil
}

func (s *Server) handleTakeOverDebt(c *call) (interface{}, *RPCError) {
	var p keyAmountParamsJSON
	if rpcErr := decodeParams(c.req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := c.caller(p.From)
	if rpcErr != nil {
		return nil, rpcErr
	}
	key, rpcErr := parseHash("borrowingKey", p.BorrowingKey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", p.Amount, true)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var newKey common.Hash
	evts, err := s.node.Execute(func(engine *leverage.Engine) error {
		var terr error
		newKey, terr = engine.TakeOverDebt(caller, key, amount)
		return terr
	})
	s.logTx(c, caller, err)
	if err != nil {
		return nil, moduleError(err)
	}
	return takeOverResult{BorrowingKey: newKey.Hex(), Events: evts}, nil
}

func (s *Server) handleIncreaseCollateralBalance(c *call) (interface{}, *RPCError) {
	var p keyAmountParamsJSON
	if rpcErr := decodeParams(c.req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := c.caller(p.From)
	if rpcErr != nil {
		return nil, rpcErr
	}
	key, rpcErr := parseHash("borrowingKey", p.BorrowingKey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", p.Amount, true)
	if rpcErr != nil {
		return nil, rpcErr
	}
	evts, err := s.node.Execute(func(engine *leverage.Engine) error {
		return engine.IncreaseCollateralBalance(caller, key, amount)
	})
	s.logTx(c, caller, err)
	if err != nil {
		return nil, moduleError(err)
	}
	return txResult{Events: evts}, nil
}

func (s *Server) handleUpdateHoldTokenDailyRate(c *call) (interface{}, *RPCError) {
	var p dailyRateParamsJSON
	if rpcErr := decodeParams(c.req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := c.caller(p.From)
	if rpcErr != nil {
		return nil, rpcErr
	}
	saleToken, rpcErr := parseAddress("saleToken", p.SaleToken)
	if rpcErr != nil {
		return nil, rpcErr
	}
	holdToken, rpcErr := parseAddress("holdToken", p.HoldToken)
	if rpcErr != nil {
		return nil, rpcErr
	}
	evts, err := s.node.Execute(func(engine *leverage.Engine) error {
		return engine.UpdateHoldTokenDailyRate(caller, saleToken, holdToken, p.Value)
	})
	s.logTx(c, caller, err)
	if err != nil {
		return nil, moduleError(err)
	}
	return txResult{Events: evts}, nil
}

func (s *Server) handleSetSwapCallToWhitelist(c *call) (interface{}, *RPCError) {
	var p whitelistParamsJSON
	if rpcErr := decodeParams(c.req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := c.caller(p.From)
	if rpcErr != nil {
		return nil, rpcErr
	}
	target, rpcErr := parseAddress("target", p.Target)
	if rpcErr != nil {
		return nil, rpcErr
	}
	selector, err := config.ParseSelector(p.Selector)
	if err != nil {
		return nil, invalidParams("selector: expected 4-byte hex", p.Selector)
	}
	evts, err := s.node.Execute(func(engine *leverage.Engine) error {
		return engine.SetSwapCallToWhitelist(caller, target, selector, p.Allowed)
	})
	s.logTx(c, caller, err)
	if err != nil {
		return nil, moduleError(err)
	}
	return txResult{Events: evts}, nil
}

func (s *Server) handleCollectProtocol(c *call) (interface{}, *RPCError) {
	var p collectParamsJSON
	if rpcErr := decodeParams(c.req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := c.caller(p.From)
	if rpcErr != nil {
		return nil, rpcErr
	}
	recipient, rpcErr := parseAddress("recipient", p.Recipient)
	if rpcErr != nil {
		return nil, rpcErr
	}
	tokens, rpcErr := parseAddresses("tokens", p.Tokens)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var amounts []*big.Int
	evts, err := s.node.Execute(func(engine *leverage.Engine) error {
		var cerr error
		amounts, cerr = engine.CollectProtocol(caller, recipient, tokens)
		return cerr
	})
	s.logTx(c, caller, err)
	if err != nil {
		return nil, moduleError(err)
	}
	out := make([]string, len(amounts))
	for i, amount := range amounts {
		out[i] = formatAmount(amount)
	}
	return collectResult{Amounts: out, Events: evts}, nil
}

func (s *Server) handleUpdateSettings(c *call) (interface{}, *RPCError) {
	var p updateSettingsParamsJSON
	if rpcErr := decodeParams(c.req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := c.caller(p.From)
	if rpcErr != nil {
		return nil, rpcErr
	}
	item, ok := leverage.ParseSettingItem(p.Item)
	if !ok {
		return nil, invalidParams("unknown settings item", p.Item)
	}
	values := make([]*big.Int, len(p.Values))
	for i, raw := range p.Values {
		if isAddressValue(raw) {
			addr, rpcErr := parseAddress("values", raw)
			if rpcErr != nil {
				return nil, rpcErr
			}
			values[i] = new(big.Int).SetBytes(addr.Bytes())
			continue
		}
		value, rpcErr := parseAmount("values", raw, true)
		if rpcErr != nil {
			return nil, rpcErr
		}
		values[i] = value
	}
	evts, err := s.node.Execute(func(engine *leverage.Engine) error {
		return engine.UpdateSettings(caller, item, values)
	})
	s.logTx(c, caller, err)
	if err != nil {
		return nil, moduleError(err)
	}
	return txResult{Events: evts}, nil
}

func (s *Server) renderBorrowing(info *leverage.BorrowingInfo) borrowingResult {
	decimals, _ := s.node.TokenDecimals(info.HoldToken)
	return borrowingResult{
		Borrower:                   info.Borrower.Hex(),
		SaleToken:                  info.SaleToken.Hex(),
		HoldToken:                  info.HoldToken.Hex(),
		FeesOwed:                   formatAmount(info.FeesOwed),
		BorrowedAmount:             formatAmount(info.BorrowedAmount),
		BorrowedAmountDisplay:      displayAmount(info.BorrowedAmount, decimals),
		LiquidationBonus:           formatAmount(info.LiquidationBonus),
		AccLoanRatePerSeconds:      formatAmount(info.AccLoanRatePerSeconds),
		DailyRateCollateralBalance: formatAmount(info.DailyRateCollateralBalance),
	}
}

func (s *Server) renderDebts(debts []leverage.BorrowingInfoExt) []debtResult {
	out := make([]debtResult, 0, len(debts))
	for _, debt := range debts {
		decimals, _ := s.node.TokenDecimals(debt.Info.HoldToken)
		out = append(out, debtResult{
			BorrowingKey:             debt.Key.Hex(),
			Borrowing:                s.renderBorrowing(debt.Info),
			CollateralBalance:        formatAmount(debt.CollateralBalance),
			CollateralBalanceDisplay: displayAmount(debt.CollateralBalance, decimals),
			EstimatedLifeTime:        debt.EstimatedLifeTime,
		})
	}
	return out
}

func (s *Server) keyParam(c *call) (keyParamsJSON, common.Hash, *RPCError) {
	var p keyParamsJSON
	if rpcErr := decodeParams(c.req, &p); rpcErr != nil {
		return p, common.Hash{}, rpcErr
	}
	key, rpcErr := parseHash("borrowingKey", p.BorrowingKey)
	return p, key, rpcErr
}

func (s *Server) handleGetLoansInfo(c *call) (interface{}, *RPCError) {
	_, key, rpcErr := s.keyParam(c)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var loans []leverage.LoanInfo
	if err := s.node.View(func(engine *leverage.Engine) error {
		var verr error
		loans, verr = engine.GetLoansInfo(key)
		return verr
	}); err != nil {
		return nil, moduleError(err)
	}
	out := make([]loanResult, len(loans))
	for i, loan := range loans {
		out[i] = loanResult{TokenID: loan.TokenID, Liquidity: formatAmount(loan.Liquidity)}
	}
	return out, nil
}

func (s *Server) handleGetBorrowingInfo(c *call) (interface{}, *RPCError) {
	_, key, rpcErr := s.keyParam(c)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var info *leverage.BorrowingInfo
	if err := s.node.View(func(engine *leverage.Engine) error {
		var verr error
		info, verr = engine.GetBorrowingInfo(key)
		return verr
	}); err != nil {
		return nil, moduleError(err)
	}
	return s.renderBorrowing(info), nil
}

func (s *Server) handleGetLenderCreditsInfo(c *call) (interface{}, *RPCError) {
	var p tokenIDParamsJSON
	if rpcErr := decodeParams(c.req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	var debts []leverage.BorrowingInfoExt
	if err := s.node.View(func(engine *leverage.Engine) error {
		var verr error
		debts, verr = engine.GetLenderCreditsInfo(p.TokenID)
		return verr
	}); err != nil {
		return nil, moduleError(err)
	}
	return s.renderDebts(debts), nil
}

func (s *Server) handleGetBorrowerDebtsInfo(c *call) (interface{}, *RPCError) {
	var p borrowerParamsJSON
	if rpcErr := decodeParams(c.req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	borrower, rpcErr := parseAddress("borrower", p.Borrower)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var debts []leverage.BorrowingInfoExt
	if err := s.node.View(func(engine *leverage.Engine) error {
		var verr error
		debts, verr = engine.GetBorrowerDebtsInfo(borrower)
		return verr
	}); err != nil {
		return nil, moduleError(err)
	}
	return s.renderDebts(debts), nil
}

func (s *Server) handleCheckDailyRateCollateral(c *call) (interface{}, *RPCError) {
	_, key, rpcErr := s.keyParam(c)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var (
		balance  *big.Int
		lifetime uint64
	)
	if err := s.node.View(func(engine *leverage.Engine) error {
		var verr error
		balance, lifetime, verr = engine.CheckDailyRateCollateral(key)
		return verr
	}); err != nil {
		return nil, moduleError(err)
	}
	return collateralResult{Balance: formatAmount(balance), EstimatedLifeTime: lifetime}, nil
}

func (s *Server) handleCalculateCollateralAmtForLifetime(c *call) (interface{}, *RPCError) {
	p, key, rpcErr := s.keyParam(c)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if p.LifetimeSeconds == 0 {
		return nil, invalidParams("lifetimeSeconds required", nil)
	}
	var amount *big.Int
	if err := s.node.View(func(engine *leverage.Engine) error {
		var verr error
		amount, verr = engine.CalculateCollateralAmtForLifetime(key, p.LifetimeSeconds)
		return verr
	}); err != nil {
		return nil, moduleError(err)
	}
	return formatAmount(amount), nil
}

func (s *Server) handleGetHoldTokenDailyRateInfo(c *call) (interface{}, *RPCError) {
	var p pairParamsJSON
	if rpcErr := decodeParams(c.req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	saleToken, rpcErr := parseAddress("saleToken", p.SaleToken)
	if rpcErr != nil {
		return nil, rpcErr
	}
	holdToken, rpcErr := parseAddress("holdToken", p.HoldToken)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var (
		rate uint64
		info *leverage.TokenInfo
	)
	if err := s.node.View(func(engine *leverage.Engine) error {
		var verr error
		rate, info, verr = engine.GetHoldTokenDailyRateInfo(saleToken, holdToken)
		return verr
	}); err != nil {
		return nil, moduleError(err)
	}
	return rateInfoResult{
		CurrentDailyRate:      rate,
		DailyRatePercent:      dailyRatePercent(rate),
		LatestUpTimestamp:     info.LatestUpTimestamp,
		AccLoanRatePerSeconds: formatAmount(info.AccLoanRatePerSeconds),
		TotalBorrowed:         formatAmount(info.TotalBorrowed),
	}, nil
}

func (s *Server) handleGetPlatformsFeesInfo(c *call) (interface{}, *RPCError) {
	var p tokensParamsJSON
	if rpcErr := decodeParams(c.req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	tokens, rpcErr := parseAddresses("tokens", p.Tokens)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var fees []*big.Int
	if err := s.node.View(func(engine *leverage.Engine) error {
		var verr error
		fees, verr = engine.GetPlatformsFeesInfo(tokens)
		return verr
	}); err != nil {
		return nil, moduleError(err)
	}
	out := make([]feeResult, len(tokens))
	for i, token := range tokens {
		out[i] = feeResult{Token: token.Hex(), Amount: formatAmount(fees[i])}
		if decimals, ok := s.node.TokenDecimals(token); ok {
			out[i].Display = displayAmount(fees[i], decimals)
		}
	}
	return out, nil
}

func (s *Server) handleGetLiquidationBonus(c *call) (interface{}, *RPCError) {
	var p liquidationBonusParamsJSON
	if rpcErr := decodeParams(c.req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseAddress("token", p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	borrowed, rpcErr := parseAmount("borrowedAmount", p.BorrowedAmount, true)
	if rpcErr != nil {
		return nil, rpcErr
	}
	times := p.Times
	if times == 0 {
		times = 1
	}
	var bonus *big.Int
	if err := s.node.View(func(engine *leverage.Engine) error {
		var verr error
		bonus, verr = engine.GetLiquidationBonus(token, borrowed, times)
		return verr
	}); err != nil {
		return nil, moduleError(err)
	}
	return formatAmount(bonus), nil
}

func (s *Server) handlePreviewRestore(c *call) (interface{}, *RPCError) {
	p, key, rpcErr := s.keyParam(c)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var previews []leverage.RestorePreview
	if err := s.node.View(func(engine *leverage.Engine) error {
		var verr error
		previews, verr = engine.PreviewRestore(key, p.Fee)
		return verr
	}); err != nil {
		return nil, moduleError(err)
	}
	out := make([]previewResult, len(previews))
	for i, preview := range previews {
		out[i] = previewResult{
			TokenID:           preview.TokenID,
			HoldTokenDebt:     formatAmount(preview.HoldTokenDebt),
			SaleTokenNeeded:   formatAmount(preview.SaleTokenNeeded),
			HoldTokenAmountIn: formatAmount(preview.HoldTokenAmountIn),
			QuotedSaleOut:     formatAmount(preview.QuotedSaleOut),
		}
	}
	return out, nil
}
