package script

import (
	"context"
	"fmt"
	"time"

	"github.com/risor-io/risor/object"
	"go.uber.org/zap"
)

// Func adapts a Go function to a Risor builtin. Arguments arrive converted
// by ToGo and the result is converted back with FromGo; a non-nil error is
// raised inside the script.
func Func(name string, fn func(ctx context.Context, args []any) (any, error)) *object.Builtin {
	return object.NewBuiltin(name, func(ctx context.Context, args ...object.Object) object.Object {
		in := make([]any, len(args))
		for i, a := range args {
			in[i] = ToGo(a)
		}
		out, err := fn(ctx, in)
		if err != nil {
			return object.Errorf("%s: %v", name, err)
		}
		return FromGo(out)
	})
}

// Arity returns an error unless args has exactly n elements.
func Arity(args []any, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d argument(s), got %d", n, len(args))
	}
	return nil
}

// String returns args[i] as a string.
func String(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i+1)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d must be a string, got %T", i+1, args[i])
	}
	return s, nil
}

// Float returns args[i] as a float64, accepting integers.
func Float(args []any, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	switch v := args[i].(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("argument %d must be a number, got %T", i+1, args[i])
}

// FromGo converts a Go value into a Risor object. Dates become
// "2006-01-02" strings; unsupported values are printed.
func FromGo(v any) object.Object {
	switch val := v.(type) {
	case nil:
		return object.Nil
	case object.Object:
		return val
	case bool:
		return object.NewBool(val)
	case int:
		return object.NewInt(int64(val))
	case int32:
		return object.NewInt(int64(val))
	case int64:
		return object.NewInt(val)
	case float32:
		return object.NewFloat(float64(val))
	case float64:
		return object.NewFloat(val)
	case string:
		return object.NewString(val)
	case []byte:
		return object.NewString(string(val))
	case time.Time:
		return object.NewString(val.Format("2006-01-02"))
	case []any:
		items := make([]object.Object, len(val))
		for i, x := range val {
			items[i] = FromGo(x)
		}
		return object.NewList(items)
	case []float64:
		items := make([]object.Object, len(val))
		for i, x := range val {
			items[i] = object.NewFloat(x)
		}
		return object.NewList(items)
	case []string:
		items := make([]object.Object, len(val))
		for i, x := range val {
			items[i] = object.NewString(x)
		}
		return object.NewList(items)
	case map[string]any:
		m := make(map[string]object.Object, len(val))
		for k, x := range val {
			m[k] = FromGo(x)
		}
		return object.NewMap(m)
	}
	return object.NewString(fmt.Sprintf("%v", v))
}

// ToGo converts a Risor object into plain Go values: int64, float64,
// string, bool, nil, []any and map[string]any. Other objects are returned
// in their printed form.
func ToGo(obj object.Object) any {
	switch val := obj.(type) {
	case nil:
		return nil
	case *object.NilType:
		return nil
	case *object.Int:
		return val.Value()
	case *object.Float:
		return val.Value()
	case *object.String:
		return val.Value()
	case *object.Bool:
		return val.Value()
	case *object.List:
		items := val.Value()
		out := make([]any, len(items))
		for i, x := range items {
			out[i] = ToGo(x)
		}
		return out
	case *object.Map:
		m := val.Value()
		out := make(map[string]any, len(m))
		for k, x := range m {
			out[k] = ToGo(x)
		}
		return out
	}
	return obj.Inspect()
}

// logObject provides log.Info/Warn/Error methods for Risor scripts.
type logObject struct {
	logger *zap.Logger
}

func (l *logObject) Info(msg string)  { l.logger.Info(msg) }
func (l *logObject) Warn(msg string)  { l.logger.Warn(msg) }
func (l *logObject) Error(msg string) { l.logger.Error(msg) }

// NewLog returns the object scripts see as log, writing to logger.
func NewLog(logger *zap.Logger) object.Object {
	if logger == nil {
		logger = zap.NewNop()
	}
	return mustProxy(&logObject{logger: logger.Named("script")})
}
