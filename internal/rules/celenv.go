// Copyright 2026 the Exposure Reporting Server authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rules

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/regtech/exposure-reporting-server/internal/exposure"
)

// newEnv builds the expression environment. Expressions are parsed, not
// type-checked: variables are resolved at runtime through the Scope, which
// is what makes the case- and underscore-insensitive lookup contract work
// for any spelling a rule author uses.
func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Function("DAYS_BETWEEN",
			cel.Overload("days_between_dyn_dyn",
				[]*cel.Type{cel.DynType, cel.DynType}, cel.IntType,
				cel.BinaryBinding(celDaysBetween))),
		cel.Function("NOW",
			cel.Overload("now_timestamp",
				[]*cel.Type{}, cel.TimestampType,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					return types.DefaultTypeAdapter.NativeToValue(time.Now().UTC())
				}))),
		cel.Function("TODAY",
			cel.Overload("today_timestamp",
				[]*cel.Type{}, cel.TimestampType,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					now := time.Now().UTC()
					today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
					return types.DefaultTypeAdapter.NativeToValue(today)
				}))),
	)
}

// celDaysBetween computes whole calendar days from the first date to the
// second, negative when the second precedes the first. Arguments may be
// timestamps or date strings.
func celDaysBetween(lhs, rhs ref.Val) ref.Val {
	from, err := asDate(lhs)
	if err != nil {
		return types.NewErr("DAYS_BETWEEN: %v", err)
	}
	to, err := asDate(rhs)
	if err != nil {
		return types.NewErr("DAYS_BETWEEN: %v", err)
	}
	days := int64(to.Sub(from).Hours() / 24)
	return types.Int(days)
}

// asDate coerces a CEL value to a UTC midnight time.
func asDate(v ref.Val) (time.Time, error) {
	switch val := v.Value().(type) {
	case time.Time:
		u := val.UTC()
		return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC), nil
	case string:
		for _, layout := range []string{exposure.DateLayout, time.RFC3339} {
			if t, err := time.Parse(layout, val); err == nil {
				return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable date %q", val)
	}
	return time.Time{}, fmt.Errorf("argument type %s is not a date", v.Type().TypeName())
}
