package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const CalculateToolName = "calculate"

// Purposes of a calculation. A daily budget is always followed by a search.
const (
	PurposeGeneral     = "general"
	PurposeDailyBudget = "daily_budget"
)

var ErrBadExpression = errors.New("bad expression")

type CalculatorTool struct{}

func (CalculatorTool) Contract() Contract {
	return Contract{
		Name: CalculateToolName,
		Description: "Evaluate arithmetic exactly. Use purpose=daily_budget when turning a total budget " +
			"into a per-day price limit, e.g. expression \"350 / 4\".",
		Params: []Param{
			{Name: "expression", Type: TypeString, Required: true, Description: "Arithmetic using + - * / % ^ and parentheses"},
			{Name: "purpose", Type: TypeString, Enum: []string{PurposeGeneral, PurposeDailyBudget}},
		},
	}
}

type calcArgs struct {
	Expression string `json:"expression"`
	Purpose    string `json:"purpose"`
}

type CalcResult struct {
	Value      float64  `json:"value"`
	DailyBound *float64 `json:"dailyBound,omitempty"`
}

func (CalculatorTool) Call(_ context.Context, args map[string]any, ws *Workspace) (any, error) {
	var a calcArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	v, err := Evaluate(a.Expression)
	if err != nil {
		return nil, err
	}
	res := CalcResult{Value: v}
	if a.Purpose == PurposeDailyBudget {
		bound := DailyBound(v)
		res.DailyBound = &bound
		ws.setBudget(bound)
	}
	return res, nil
}

// DailyBound rounds a per-day amount down to whole dollars so the bound never exceeds the budget.
func DailyBound(v float64) float64 {
	return math.Floor(v + 1e-9)
}

// Evaluate parses and computes an arithmetic expression. "$" and thousands separators are ignored.
func Evaluate(expr string) (float64, error) {
	p := &parser{src: strings.NewReplacer("$", "", ",", "", "×", "*", "÷", "/").Replace(expr)}
	p.next()
	if p.tok.kind == tokEOF {
		return 0, fmt.Errorf("%w: empty", ErrBadExpression)
	}
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	if p.tok.kind != tokEOF {
		return 0, fmt.Errorf("%w: unexpected %q at %d", ErrBadExpression, p.tok.text, p.tok.pos)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("%w: result is not finite", ErrBadExpression)
	}
	return v, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokOp
	tokLParen
	tokRParen
	tokBad
)

type token struct {
	kind tokKind
	text string
	num  float64
	pos  int
}

// parser is a recursive-descent evaluator:
//
//	expr   = term { ("+" | "-") term }
//	term   = unary { ("*" | "/" | "%") unary }
//	unary  = ("+" | "-") unary | power
//	power  = primary [ "^" unary ]
//	primary = number | "(" expr ")"
type parser struct {
	src string
	pos int
	tok token
}

func (p *parser) next() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.src) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}
	c := p.src[p.pos]
	switch {
	case c >= '0' && c <= '9' || c == '.':
		for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
			p.pos++
		}
		text := p.src[start:p.pos]
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			p.tok = token{kind: tokBad, text: text, pos: start}
			return
		}
		p.tok = token{kind: tokNum, text: text, num: n, pos: start}
	case strings.ContainsRune("+-*/%^", rune(c)):
		p.pos++
		p.tok = token{kind: tokOp, text: string(c), pos: start}
	case c == '(':
		p.pos++
		p.tok = token{kind: tokLParen, text: "(", pos: start}
	case c == ')':
		p.pos++
		p.tok = token{kind: tokRParen, text: ")", pos: start}
	default:
		p.pos++
		p.tok = token{kind: tokBad, text: string(c), pos: start}
	}
}

func (p *parser) isOp(ops string) bool {
	return p.tok.kind == tokOp && strings.Contains(ops, p.tok.text)
}

func (p *parser) expr() (float64, error) {
	v, err := p.term()
	if err != nil {
		return 0, err
	}
	for p.isOp("+-") {
		op := p.tok.text
		p.next()
		r, err := p.term()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			v += r
		} else {
			v -= r
		}
	}
	return v, nil
}

func (p *parser) term() (float64, error) {
	v, err := p.unary()
	if err != nil {
		return 0, err
	}
	for p.isOp("*/%") {
		op := p.tok.text
		p.next()
		r, err := p.unary()
		if err != nil {
			return 0, err
		}
		switch op {
		case "*":
			v *= r
		case "/":
			if r == 0 {
				return 0, fmt.Errorf("%w: division by zero", ErrBadExpression)
			}
			v /= r
		case "%":
			if r == 0 {
				return 0, fmt.Errorf("%w: modulo by zero", ErrBadExpression)
			}
			v = math.Mod(v, r)
		}
	}
	return v, nil
}

func (p *parser) unary() (float64, error) {
	if p.isOp("+-") {
		neg := p.tok.text == "-"
		p.next()
		v, err := p.unary()
		if neg {
			v = -v
		}
		return v, err
	}
	return p.power()
}

func (p *parser) power() (float64, error) {
	base, err := p.primary()
	if err != nil {
		return 0, err
	}
	if p.isOp("^") {
		p.next()
		exp, err := p.unary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *parser) primary() (float64, error) {
	switch p.tok.kind {
	case tokNum:
		v := p.tok.num
		p.next()
		return v, nil
	case tokLParen:
		p.next()
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		if p.tok.kind != tokRParen {
			return 0, fmt.Errorf("%w: missing )", ErrBadExpression)
		}
		p.next()
		return v, nil
	case tokEOF:
		return 0, fmt.Errorf("%w: unexpected end", ErrBadExpression)
	}
	return 0, fmt.Errorf("%w: unexpected %q at %d", ErrBadExpression, p.tok.text, p.tok.pos)
}
