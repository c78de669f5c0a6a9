package rules

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/cascade/internal/types"
)

func TestEvaluateExpression(t *testing.T) {
	bag := types.ValueBag{
		"rate":         types.Number(0.0725),
		"price":        types.String("250000"),
		"down_payment": types.Number(50000),
		"loan.term":    types.Number(360),
		"name":         types.String("Jane"),
		"blank":        types.String(""),
		"flag":         types.Bool(true),
		"empty":        types.Null(),
		"list":         types.Array(types.Number(1)),
		"zero":         types.Number(0),
	}

	tests := []struct {
		name   string
		expr   string
		want   float64
		wantOK bool
	}{
		{"rate scaled to percent", "rate * 100", 7.25, true},
		{"literal arithmetic", "1 + 2 * 3", 7, true},
		{"parentheses override precedence", "(1 + 2) * 3", 9, true},
		{"left associative subtraction", "10 - 4 - 3", 3, true},
		{"left associative division", "100 / 10 / 5", 2, true},
		{"unary minus", "-5 + 10", 5, true},
		{"double unary", "--5", 5, true},
		{"unary plus", "+rate * 100", 7.25, true},
		{"numeric string field", "price - down_payment", 200000, true},
		{"dotted field id", "loan.term / 12", 30, true},
		{"leading decimal point", ".5 * 4", 2, true},
		{"whitespace everywhere", "  ( 1\t+\n2 )  ", 3, true},

		{"malformed trailing operator", "1 + ", 0, false},
		{"empty", "", 0, false},
		{"whitespace only", "   ", 0, false},
		{"unbalanced open", "(1 + 2", 0, false},
		{"unbalanced close", "1 + 2)", 0, false},
		{"adjacent numbers", "1 2", 0, false},
		{"two decimal points", "1.2.3", 0, false},
		{"division by zero", "1 / 0", 0, false},
		{"division by zero field", "price / zero", 0, false},
		{"absent field", "missing * 2", 0, false},
		{"text field", "name * 2", 0, false},
		{"blank text field", "blank + 1", 0, false},
		{"boolean field", "flag + 1", 0, false},
		{"null field", "empty + 1", 0, false},
		{"array field", "list + 1", 0, false},
		{"function call rejected", "max(1, 2)", 0, false},
		{"exponent rejected", "2 ** 3", 0, false},
		{"string literal rejected", "'1' + 1", 0, false},
		{"statement rejected", "1; rm -rf", 0, false},
		{"modulo rejected", "5 % 2", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := EvaluateExpression(tt.expr, bag)
			if ok != tt.wantOK {
				t.Fatalf("EvaluateExpression(%q) ok = %v, want %v (value %v)", tt.expr, ok, tt.wantOK, got)
			}
			if ok && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EvaluateExpression(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestParseExpression_Errors(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr error
	}{
		{"garbage", "1 $ 2", types.ErrInvalidExpression},
		{"unbalanced", "((1)", types.ErrInvalidExpression},
		{"too long", strings.Repeat("1+", types.MaxExpressionLength) + "1", types.ErrExpressionTooLong},
		{"too deep parens", strings.Repeat("(", types.MaxExpressionDepth+1) + "1" + strings.Repeat(")", types.MaxExpressionDepth+1), types.ErrExpressionTooDeep},
		{"too deep unary", strings.Repeat("-", types.MaxExpressionDepth+1) + "1", types.ErrExpressionTooDeep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseExpression(tt.expr)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseExpression(%q) error = %v, want %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestParseExpression_MaxDepthAllowed(t *testing.T) {
	depth := types.MaxExpressionDepth
	src := strings.Repeat("(", depth) + "2" + strings.Repeat(")", depth)
	expr, err := ParseExpression(src)
	if err != nil {
		t.Fatalf("ParseExpression() error = %v, want nil", err)
	}
	if got, ok := expr.Eval(nil); !ok || got != 2 {
		t.Errorf("Eval() = %v, %v, want 2, true", got, ok)
	}
}

func TestExpr_Fields(t *testing.T) {
	expr, err := ParseExpression("price - down_payment + price * rate")
	if err != nil {
		t.Fatalf("ParseExpression() error = %v, want nil", err)
	}

	got := expr.Fields()
	want := []types.FieldID{"price", "down_payment", "rate"}
	if len(got) != len(want) {
		t.Fatalf("Fields() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Fields()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if expr.Source() != "price - down_payment + price * rate" {
		t.Errorf("Source() = %q", expr.Source())
	}
}

// Property-based test: evaluation never panics on arbitrary input
func TestEvaluateExpression_PropertyNeverPanics(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	alphabet := []rune("0123456789.+-*/() abx_$;'\"")
	properties.Property("arbitrary input returns a value or null", prop.ForAll(
		func(idx []int) bool {
			var sb strings.Builder
			for _, i := range idx {
				sb.WriteRune(alphabet[i%len(alphabet)])
			}

			defer func() {
				if r := recover(); r != nil {
					t.Errorf("EvaluateExpression(%q) panicked: %v", sb.String(), r)
				}
			}()

			v, ok := EvaluateExpression(sb.String(), types.ValueBag{"a": types.Number(2), "b": types.String("x")})
			return !ok || (!math.IsNaN(v) && !math.IsInf(v, 0))
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

// Property-based test: integer arithmetic agrees with Go
func TestEvaluateExpression_PropertyArithmetic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a + b * c matches native arithmetic", prop.ForAll(
		func(a, b, c int) bool {
			bag := types.ValueBag{"a": types.Number(float64(a)), "b": types.Number(float64(b))}
			got, ok := EvaluateExpression(fmt.Sprintf("a + b * %d", c), bag)
			return ok && got == float64(a+b*c)
		},
		gen.IntRange(-1000, 1000),
		gen.IntRange(-1000, 1000),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
