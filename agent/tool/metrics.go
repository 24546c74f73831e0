package tool

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
)

// Digits, identifiers, whitespace, decimal points, operators and parentheses.
var metricsExpressionPattern = regexp.MustCompile(`^[\w\s\+\-\*/%\^\(\)\.]+$`)

type MetricsComputeOutput struct {
	Expression string             `json:"expression"`
	Variables  map[string]float64 `json:"variables,omitempty"`
	Result     float64            `json:"result"`
}

func executeMetricsTool(tool string, args map[string]any) (contractx.ToolResult, error) {
	expression, err := requiredString(args, "expression")
	if err != nil {
		return contractx.ToolResult{Tool: tool, Error: err.Error()}, nil
	}

	vars, err := metricVariables(args["variables"])
	if err != nil {
		return contractx.ToolResult{Tool: tool, Error: err.Error()}, nil
	}

	if err := validateMetricsExpression(expression); err != nil {
		return contractx.ToolResult{Tool: tool, Error: err.Error()}, nil
	}

	result, err := evaluateMetricsExpression(expression, vars)
	if err != nil {
		return contractx.ToolResult{Tool: tool, Error: err.Error()}, nil
	}

	return contractx.ToolResult{
		Tool: tool,
		Result: MetricsComputeOutput{
			Expression: expression,
			Variables:  vars,
			Result:     result,
		},
	}, nil
}

func metricVariables(raw any) (map[string]float64, error) {
	if raw == nil {
		return nil, nil
	}
	in, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("variables must be an object")
	}
	out := make(map[string]float64, len(in))
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		n, ok := toFloat(in[k])
		if !ok {
			return nil, fmt.Errorf("variable %q must be a number", k)
		}
		out[k] = n
	}
	return out, nil
}

func validateMetricsExpression(expression string) error {
	if expression == "" {
		return fmt.Errorf("expression is empty")
	}
	if !metricsExpressionPattern.MatchString(expression) {
		return fmt.Errorf("expression contains invalid characters")
	}

	balance := 0
	for _, ch := range expression {
		switch ch {
		case '(':
			balance++
		case ')':
			balance--
			if balance < 0 {
				return fmt.Errorf("expression has unbalanced parentheses")
			}
		}
	}
	if balance != 0 {
		return fmt.Errorf("expression has unbalanced parentheses")
	}
	return nil
}

func evaluateMetricsExpression(expression string, vars map[string]float64) (float64, error) {
	p := &metricsParser{input: expression, vars: vars}
	value, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.hasNext() {
		return 0, fmt.Errorf("unexpected token at position %d", p.pos)
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, fmt.Errorf("result is not a finite number")
	}
	return value, nil
}

// metricsParser is a recursive-descent evaluator:
//
//	expr  = term { ("+" | "-") term }
//	term  = power { ("*" | "/" | "%") power }
//	power = unary [ "^" power ]
//	unary = { "+" | "-" } primary
//	primary = number | identifier | "(" expr ")"
type metricsParser struct {
	input string
	pos   int
	vars  map[string]float64
}

func (p *metricsParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}

	for {
		p.skipSpaces()
		switch {
		case p.match('+'):
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case p.match('-'):
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *metricsParser) parseTerm() (float64, error) {
	left, err := p.parsePower()
	if err != nil {
		return 0, err
	}

	for {
		p.skipSpaces()
		switch {
		case p.match('*'):
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			left *= right
		case p.match('/'):
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		case p.match('%'):
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("modulo by zero")
			}
			left = math.Mod(left, right)
		default:
			return left, nil
		}
	}
}

func (p *metricsParser) parsePower() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}

	p.skipSpaces()
	if p.match('^') {
		right, err := p.parsePower()
		if err != nil {
			return 0, err
		}
		return math.Pow(left, right), nil
	}
	return left, nil
}

func (p *metricsParser) parseUnary() (float64, error) {
	p.skipSpaces()
	if p.match('+') {
		return p.parseUnary()
	}
	if p.match('-') {
		value, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return -value, nil
	}
	return p.parsePrimary()
}

func (p *metricsParser) parsePrimary() (float64, error) {
	p.skipSpaces()
	if p.match('(') {
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpaces()
		if !p.match(')') {
			return 0, fmt.Errorf("missing closing parenthesis at position %d", p.pos)
		}
		return value, nil
	}
	if p.hasNext() && isIdentStart(p.peek()) {
		return p.parseIdentifier()
	}
	return p.parseNumber()
}

func (p *metricsParser) parseIdentifier() (float64, error) {
	start := p.pos
	for p.hasNext() && isIdentPart(p.peek()) {
		p.pos++
	}
	name := p.input[start:p.pos]
	value, ok := p.vars[name]
	if !ok {
		return 0, fmt.Errorf("unknown variable %q", name)
	}
	return value, nil
}

func (p *metricsParser) parseNumber() (float64, error) {
	start := p.pos
	hasDigit := false
	hasDot := false

loop:
	for p.hasNext() {
		ch := p.peek()
		switch {
		case ch >= '0' && ch <= '9':
			hasDigit = true
			p.pos++
		case ch == '.':
			if hasDot {
				return 0, fmt.Errorf("invalid number format at position %d", p.pos)
			}
			hasDot = true
			p.pos++
		default:
			break loop
		}
	}

	if !hasDigit {
		return 0, fmt.Errorf("expected number at position %d", start)
	}

	raw := p.input[start:p.pos]
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", raw, err)
	}
	return value, nil
}

func (p *metricsParser) skipSpaces() {
	for p.hasNext() && strings.ContainsRune(" \t\n", rune(p.peek())) {
		p.pos++
	}
}

func (p *metricsParser) hasNext() bool {
	return p.pos < len(p.input)
}

func (p *metricsParser) peek() byte {
	return p.input[p.pos]
}

func (p *metricsParser) match(expected byte) bool {
	if p.hasNext() && p.peek() == expected {
		p.pos++
		return true
	}
	return false
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}
