// Copyright 2024-2025 queryforge
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	dec "github.com/govalues/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/queryforge/jitgen/pkg/codegen"
	"github.com/queryforge/jitgen/pkg/common"
	"github.com/queryforge/jitgen/pkg/util"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initExprCmd()
}

var runCfg = &util.Config{}

///root cmd

var info = "jitgen"
var RootCmd = &cobra.Command{
	Use:          "jitgen",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use jitgen --help or -h")
	},
}

func initDebugOptions() {
	runCfg.Debug.PrintIR = viper.GetBool("debug.printIR")
	runCfg.Debug.PrintResult = viper.GetBool("debug.printResult")
	runCfg.Debug.LogLevel = viper.GetString("debug.logLevel")
	if lvl, err := zapcore.ParseLevel(runCfg.Debug.LogLevel); err == nil {
		util.SetLogLevel(lvl)
	}
}

//expr cmd

var exprInfo = "compile and run a sample expression function"
var exprCmd = &cobra.Command{
	Use:   "expr",
	Short: exprInfo,
	Long:  exprInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		initExprCfg()
		return runExpr(runCfg)
	},
}

func initExprCfg() {
	initDebugOptions()
	runCfg.Expr.Parallel = viper.GetInt("expr.parallel")
}

func initExprCmd() {
	RootCmd.AddCommand(exprCmd)
	exprCmd.Flags().IntVar(&runCfg.Expr.Parallel, "parallel", 1, "concurrent compilations")
	exprCmd.Flags().BoolVar(&runCfg.Debug.PrintIR, "print_ir", false, "dump generated IR")
	exprCmd.Flags().BoolVar(&runCfg.Debug.PrintResult, "print_result", true, "print per-row results")

	viper.BindPFlag("expr.parallel", exprCmd.Flags().Lookup("parallel"))
	viper.BindPFlag("debug.printIR", exprCmd.Flags().Lookup("print_ir"))
	viper.BindPFlag("debug.printResult", exprCmd.Flags().Lookup("print_result"))
}

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "jitgen.toml"

func loadConfig() {
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			viper.SetConfigFile(fpath)
			err := viper.ReadInConfig()
			if err != nil {
				util.Error("viper load config file failed",
					zap.String("fpath", fpath),
					zap.Error(err))
				continue
			}
			return
		}
	}
	util.Warn("jitgen.toml does not exist, using defaults")
}

type sampleRow struct {
	a     int64
	aNull bool
	b     int64
	name  string
}

var sampleRows = []sampleRow{
	{a: 35, b: 7, name: "alpha"},
	{a: 0, aNull: true, b: 3, name: "beta"},
	{a: -14, b: 0, name: "gamma"},
	{a: 9223372036854775807, b: 1, name: "delta"},
}

// buildSampleFn generates: sum = a + b (null on overflow or zero
// divisor), quot = a / b, flag = sum < a, h = hash(a, name).
func buildSampleFn(ts *codegen.TypeSystem) (*codegen.CodeGen, []codegen.Type, *codegen.RowLayout, error) {
	bigN := codegen.MakeType(common.BigintType(), true, ts)
	bigT := codegen.MakeType(common.BigintType(), false, ts)
	vcT := codegen.MakeType(common.VarcharType(), false, ts)
	inTypes := []codegen.Type{bigN, bigT, vcT}

	cg := codegen.NewCodeGen("expr")
	outs, err := codegen.Compile(func() []codegen.Value {
		in := codegen.Reconstruct(cg, inTypes)
		a, b, name := in[0], in[1], in[2]
		sum := a.Add(cg, b, codegen.OnErrorReturnNull)
		quot := a.Div(cg, b, codegen.OnErrorReturnNull)
		flag := sum.CompareLt(cg, a)
		h := codegen.HashValues(cg, []codegen.Value{a, name})
		outs := []codegen.Value{sum, quot, flag, h}
		codegen.Materialize(cg, outs)
		cg.Finish()
		return outs
	})
	if err != nil {
		return nil, nil, nil, err
	}
	outTypes := make([]codegen.Type, 0, len(outs))
	for _, out := range outs {
		outTypes = append(outTypes, out.GetType())
	}
	return cg, inTypes, codegen.NewRowLayout(outTypes), nil
}

func runRows(cfg *util.Config, cg *codegen.CodeGen, layout *codegen.RowLayout) error {
	for _, row := range sampleRows {
		rets, err := cg.Run(
			codegen.RtInt(common.INT64, row.a), codegen.RtBool(row.aNull),
			codegen.RtInt(common.INT64, row.b),
			codegen.RtString(row.name), codegen.RtUint(common.UINT64, uint64(len(row.name))))
		if err != nil {
			util.Error("row failed",
				zap.String("name", row.name),
				zap.Error(err))
			continue
		}
		stored := codegen.StoreResults(layout, rets)
		if cfg.Debug.PrintResult {
			line := ""
			for i := range layout.Types() {
				val, isNull := stored.ReadCell(i)
				if isNull {
					line += " NULL"
				} else {
					line += " " + val.String()
				}
			}
			fmt.Printf("%s:%s\n", row.name, line)
		}
	}
	return nil
}

// buildCaseFn generates CASE WHEN a IS NULL THEN 0.00 ELSE price * a
// END with branch-local values merged through a PHI at the join.
func buildCaseFn(ts *codegen.TypeSystem) (*codegen.CodeGen, *codegen.RowLayout, error) {
	bigN := codegen.MakeType(common.BigintType(), true, ts)
	decT := codegen.MakeType(common.DecimalType(12, 2), false, ts)
	inTypes := []codegen.Type{bigN, decT}

	cg := codegen.NewCodeGen("case_expr")
	out, err := codegen.Compile(func() codegen.Value {
		in := codegen.Reconstruct(cg, inTypes)
		a, price := in[0], in[1]

		thenB := cg.NewBlock("a_null")
		elseB := cg.NewBlock("a_set")
		joinB := cg.NewBlock("join")
		cg.CondBr(a.IsNull(cg), thenB, elseB)

		cg.SetInsertPoint(thenB)
		zero := codegen.NewValue(decT,
			cg.ConstDecimal(dec.MustNew(0, 2)),
			codegen.InvalidReg, codegen.InvalidReg)
		cg.Br(joinB)

		cg.SetInsertPoint(elseB)
		total := price.Mul(cg, a, codegen.OnErrorReturnNull)
		cg.Br(joinB)

		cg.SetInsertPoint(joinB)
		merged := codegen.BuildPHI(cg, []util.Pair[codegen.Value, *codegen.Block]{
			{First: zero, Second: thenB},
			{First: total, Second: elseB},
		})
		codegen.Materialize(cg, []codegen.Value{merged})
		cg.Finish()
		return merged
	})
	if err != nil {
		return nil, nil, err
	}
	return cg, codegen.NewRowLayout([]codegen.Type{out.GetType()}), nil
}

func runCaseRows(cfg *util.Config, cg *codegen.CodeGen, layout *codegen.RowLayout) error {
	for _, row := range sampleRows {
		rets, err := cg.Run(
			codegen.RtInt(common.INT64, row.a), codegen.RtBool(row.aNull),
			codegen.RtDecimal(dec.MustNew(199, 2)))
		if err != nil {
			return err
		}
		if cfg.Debug.PrintResult {
			stored := codegen.StoreResults(layout, rets)
			val, isNull := stored.ReadCell(0)
			if isNull {
				fmt.Printf("%s: NULL\n", row.name)
			} else {
				fmt.Printf("%s: %v\n", row.name, val)
			}
		}
	}
	return nil
}

func runExpr(cfg *util.Config) error {
	base := codegen.DefaultTypeSystem()

	par := cfg.Expr.Parallel
	if par <= 1 {
		cg, _, layout, err := buildSampleFn(base)
		if err != nil {
			return err
		}
		if cfg.Debug.PrintIR {
			fmt.Print(cg.String())
		}
		if err = runRows(cfg, cg, layout); err != nil {
			return err
		}
		caseCg, caseLayout, err := buildCaseFn(base)
		if err != nil {
			return err
		}
		if cfg.Debug.PrintIR {
			fmt.Print(caseCg.String())
		}
		return runCaseRows(cfg, caseCg, caseLayout)
	}

	var eg errgroup.Group
	for i := 0; i < par; i++ {
		worker := i
		eg.Go(func() error {
			ts := base.Clone()
			cg, _, layout, err := buildSampleFn(ts)
			if err != nil {
				return err
			}
			util.Info("worker compiled",
				zap.Int("worker", worker),
				zap.String("fn", cg.Name()))
			return runRows(cfg, cg, layout)
		})
	}
	return eg.Wait()
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
