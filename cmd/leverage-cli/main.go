package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = os.Getenv("LEVERAGE_RPC_TOKEN")
	httpClient   = &http.Client{Timeout: 15 * time.Second}
)

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("LEVERAGE_RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8645"
}

type paramKind int

const (
	kindString paramKind = iota
	kindUint
	kindBool
	kindList
	kindLoans
)

// param maps a command flag onto a field of the JSON-RPC parameter object.
type param struct {
	flag  string
	field string
	kind  paramKind
	usage string
}

type command struct {
	method  string
	summary string
	params  []param
	swap    bool
}

var fromParam = param{"from", "from", kindString, "caller address"}

var commands = map[string]command{
	"borrow": {
		method:  "leverage_borrow",
		summary: "open or extend a leveraged borrowing",
		params: []param{
			fromParam,
			{"sale", "saleToken", kindString, "sale token address"},
			{"hold", "holdToken", kindString, "hold token address"},
			{"pool-fee", "internalSwapPoolFee", kindUint, "internal swap pool fee tier"},
			{"min-out", "minHoldTokenOut", kindString, "minimum hold token out of the swap"},
			{"max-collateral", "maxCollateral", kindString, "maximum collateral the borrower pays"},
			{"loans", "loans", kindLoans, "loans as tokenId:liquidity,..."},
			{"deadline", "deadline", kindUint, "unix deadline (0 = now)"},
		},
		swap: true,
	},
	"repay": {
		method:  "leverage_repay",
		summary: "repay or liquidate a borrowing",
		params: []param{
			fromParam,
			{"key", "borrowingKey", kindString, "borrowing key"},
			{"emergency", "isEmergency", kindBool, "lender emergency withdrawal"},
			{"pool-fee", "internalSwapPoolFee", kindUint, "internal swap pool fee tier"},
			{"slippage", "swapSlippageBP1000", kindUint, "minimum restore swap output out of 1000"},
			{"deadline", "deadline", kindUint, "unix deadline (0 = now)"},
		},
		swap: true,
	},
	"take-over": {
		method:  "leverage_takeOverDebt",
		summary: "take over an undercollateralized borrowing",
		params: []param{
			fromParam,
			{"key", "borrowingKey", kindString, "borrowing key"},
			{"amount", "amount", kindString, "collateral to pay"},
		},
	},
	"add-collateral": {
		method:  "leverage_increaseCollateralBalance",
		summary: "top up the daily rate collateral of a borrowing",
		params: []param{
			fromParam,
			{"key", "borrowingKey", kindString, "borrowing key"},
			{"amount", "amount", kindString, "collateral to add"},
		},
	},
	"set-rate": {
		method:  "leverage_updateHoldTokenDailyRate",
		summary: "set the daily rate of a token pair",
		params: []param{
			fromParam,
			{"sale", "saleToken", kindString, "sale token address"},
			{"hold", "holdToken", kindString, "hold token address"},
			{"value", "value", kindUint, "daily rate in basis points"},
		},
	},
	"whitelist": {
		method:  "leverage_setSwapCallToWhitelist",
		summary: "allow or forbid an external swap call",
		params: []param{
			fromParam,
			{"target", "target", kindString, "swap target address"},
			{"selector", "selector", kindString, "4-byte call selector"},
			{"allowed", "allowed", kindBool, "whether the call is allowed"},
		},
	},
	"collect": {
		method:  "leverage_collectProtocol",
		summary: "collect accrued platform fees",
		params: []param{
			fromParam,
			{"recipient", "recipient", kindString, "fee recipient"},
			{"tokens", "tokens", kindList, "comma separated token addresses"},
		},
	},
	"update-settings": {
		method:  "leverage_updateSettings",
		summary: "change an owner setting",
		params: []param{
			fromParam,
			{"item", "item", kindString, "platform_fees, default_liquidation_bonus, daily_rate_operator or liquidation_bonus_for_token"},
			{"values", "values", kindList, "comma separated values"},
		},
	},
	"loans": {
		method:  "leverage_getLoansInfo",
		summary: "list the loans of a borrowing",
		params:  []param{{"key", "borrowingKey", kindString, "borrowing key"}},
	},
	"borrowing": {
		method:  "leverage_getBorrowingInfo",
		summary: "show a borrowing",
		params:  []param{{"key", "borrowingKey", kindString, "borrowing key"}},
	},
	"credits": {
		method:  "leverage_getLenderCreditsInfo",
		summary: "list borrowings against a position",
		params:  []param{{"token-id", "tokenId", kindUint, "position token id"}},
	},
	"debts": {
		method:  "leverage_getBorrowerDebtsInfo",
		summary: "list the borrowings of a borrower",
		params:  []param{{"borrower", "borrower", kindString, "borrower address"}},
	},
	"collateral": {
		method:  "leverage_checkDailyRateCollateral",
		summary: "show the remaining daily rate collateral",
		params:  []param{{"key", "borrowingKey", kindString, "borrowing key"}},
	},
	"lifetime": {
		method:  "leverage_calculateCollateralAmtForLifetime",
		summary: "collateral needed to keep a borrowing alive",
		params: []param{
			{"key", "borrowingKey", kindString, "borrowing key"},
			{"seconds", "lifetimeSeconds", kindUint, "lifetime in seconds"},
		},
	},
	"rate": {
		method:  "leverage_getHoldTokenDailyRateInfo",
		summary: "show the daily rate of a token pair",
		params: []param{
			{"sale", "saleToken", kindString, "sale token address"},
			{"hold", "holdToken", kindString, "hold token address"},
		},
	},
	"fees": {
		method:  "leverage_getPlatformsFeesInfo",
		summary: "show accrued platform fees",
		params:  []param{{"tokens", "tokens", kindList, "comma separated token addresses"}},
	},
	"bonus": {
		method:  "leverage_getLiquidationBonus",
		summary: "compute a liquidation bonus",
		params: []param{
			{"token", "token", kindString, "hold token address"},
			{"amount", "borrowedAmount", kindString, "borrowed amount"},
			{"times", "times", kindUint, "number of loans"},
		},
	},
	"preview": {
		method:  "leverage_previewRestore",
		summary: "preview the swaps a repayment performs",
		params: []param{
			{"key", "borrowingKey", kindString, "borrowing key"},
			{"fee", "fee", kindUint, "internal swap pool fee tier"},
		},
	},
}

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(args) < 1 || args[0] == "help" {
		printUsage(os.Stdout)
		return
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		printUsage(os.Stderr)
		os.Exit(2)
	}
	params, err := buildParams(args[0], cmd, args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	result, err := callRPC(cmd.method, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Println(string(result))
		return
	}
	fmt.Println(pretty.String())
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc" || arg == "--token":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", arg)
			}
			if arg == "--rpc" {
				rpcEndpoint = args[i+1]
			} else {
				rpcAuthToken = args[i+1]
			}
			i++
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
		case strings.HasPrefix(arg, "--token="):
			rpcAuthToken = strings.TrimPrefix(arg, "--token=")
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

// buildParams parses the command flags into the JSON-RPC parameter object.
// Unset flags are left out so the server applies its defaults.
func buildParams(name string, cmd command, args []string) (map[string]interface{}, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	values := make(map[string]*string, len(cmd.params))
	for _, p := range cmd.params {
		values[p.flag] = fs.String(p.flag, "", p.usage)
	}
	var swapTarget, swapData *string
	var swapIndex, swapGas *uint64
	if cmd.swap {
		swapTarget = fs.String("swap-target", "", "external swap target")
		swapData = fs.String("swap-data", "", "external swap calldata (hex)")
		swapIndex = fs.Uint64("swap-amount-index", 0, "word index of the amount in the calldata")
		swapGas = fs.Uint64("swap-gas", 0, "gas cap of the external call")
	}
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	out := make(map[string]interface{}, len(cmd.params))
	for _, p := range cmd.params {
		raw := strings.TrimSpace(*values[p.flag])
		if raw == "" {
			continue
		}
		switch p.kind {
		case kindString:
			out[p.field] = raw
		case kindUint:
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("-%s: %w", p.flag, err)
			}
			out[p.field] = v
		case kindBool:
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("-%s: %w", p.flag, err)
			}
			out[p.field] = v
		case kindList:
			out[p.field] = splitList(raw)
		case kindLoans:
			loans, err := parseLoans(raw)
			if err != nil {
				return nil, fmt.Errorf("-%s: %w", p.flag, err)
			}
			out[p.field] = loans
		}
	}
	if cmd.swap && strings.TrimSpace(*swapTarget) != "" {
		out["externalSwap"] = map[string]interface{}{
			"target":            strings.TrimSpace(*swapTarget),
			"data":              strings.TrimSpace(*swapData),
			"amountInDataIndex": *swapIndex,
			"maxGasForCall":     *swapGas,
		}
	}
	return out, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLoans(raw string) ([]map[string]interface{}, error) {
	entries := splitList(raw)
	if len(entries) == 0 {
		return nil, errors.New("at least one loan required")
	}
	loans := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		id, liquidity, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("loan %q: expected tokenId:liquidity", entry)
		}
		tokenID, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("loan %q: %w", entry, err)
		}
		loans = append(loans, map[string]interface{}{"tokenId": tokenID, "liquidity": strings.TrimSpace(liquidity)})
	}
	return loans, nil
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Message, e.Code, string(e.Data))
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

func callRPC(method string, params interface{}) (json.RawMessage, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  []interface{}{params},
		"id":      1,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(rpcAuthToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return nil, decoded.Error
	}
	return decoded.Result, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: leverage-cli [--rpc URL] [--token JWT] <command> [flags]")
	fmt.Fprintln(w, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-16s %s\n", name, commands[name].summary)
	}
}
