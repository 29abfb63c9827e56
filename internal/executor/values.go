package executor

import (
	"fmt"
	"strconv"

	language "github.com/hanpama/fedgraph/internal/language"
	supergraph "github.com/hanpama/fedgraph/internal/supergraph"
)

// VariableError reports variable values that do not match their definitions.
type VariableError struct {
	Message string
}

func (e *VariableError) Error() string { return e.Message }

// coerceVariableValues coerces variable values according to their types.
// Defaults are applied for variables left out of variableValues.
func coerceVariableValues(defs language.VariableDefinitionList, variableValues map[string]any) (map[string]any, error) {
	coerced := make(map[string]any)
	for _, varDef := range defs {
		name := varDef.Variable
		t := varDef.Type
		val, ok := variableValues[name]
		if !ok {
			if varDef.DefaultValue != nil {
				dv, err := varDef.DefaultValue.Value(nil)
				if err != nil {
					return nil, &VariableError{Message: fmt.Sprintf("variable $%s has an invalid default value: %v", name, err)}
				}
				val = dv
			} else if t.NonNull {
				return nil, &VariableError{Message: fmt.Sprintf("variable $%s of required type %s was not provided", name, t.String())}
			} else {
				continue
			}
		}
		if val == nil && t.NonNull {
			return nil, &VariableError{Message: fmt.Sprintf("variable $%s of type %s cannot be null", name, t.String())}
		}
		cv, err := coerceValue(val, supergraph.FromAST(t))
		if err != nil {
			return nil, &VariableError{Message: fmt.Sprintf("variable $%s of type %s cannot be coerced: %v", name, t.String(), err)}
		}
		coerced[name] = cv
	}
	return coerced, nil
}

// coerceValue coerces a value to the specified GraphQL type
func coerceValue(value any, targetType *supergraph.TypeRef) (any, error) {
	if targetType.IsNonNull() {
		if value == nil {
			return nil, fmt.Errorf("cannot provide null for non-null type")
		}
		return coerceValue(value, targetType.Unwrap())
	}

	if value == nil {
		return nil, nil
	}

	if targetType.IsList() {
		return coerceListValue(value, targetType)
	}

	switch targetType.NamedType() {
	case "Int":
		return coerceToInt(value)
	case "Float":
		return coerceToFloat(value)
	case "String":
		return coerceToString(value)
	case "Boolean":
		return coerceToBoolean(value)
	case "ID":
		return coerceToID(value)
	default:
		// Custom scalars, enums and input objects are checked by the subgraph.
		return value, nil
	}
}

// coerceListValue coerces a value to a list
func coerceListValue(value any, listType *supergraph.TypeRef) (any, error) {
	innerType := listType.Unwrap()
	if slice, ok := value.([]any); ok {
		coercedSlice := make([]any, len(slice))
		for i, item := range slice {
			coercedItem, err := coerceValue(item, innerType)
			if err != nil {
				return nil, err
			}
			coercedSlice[i] = coercedItem
		}
		return coercedSlice, nil
	}

	// Single value becomes a list of one
	coercedItem, err := coerceValue(value, innerType)
	if err != nil {
		return nil, err
	}
	return []any{coercedItem}, nil
}

func coerceToInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	case string:
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to int", value, value)
}

func coerceToFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		if floatVal, err := strconv.ParseFloat(v, 64); err == nil {
			return floatVal, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to float", value, value)
}

func coerceToString(value any) (any, error) {
	if v, ok := value.(string); ok {
		return v, nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to string", value, value)
}

func coerceToBoolean(value any) (any, error) {
	if v, ok := value.(bool); ok {
		return v, nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to boolean", value, value)
}

func coerceToID(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to ID", value, value)
}
