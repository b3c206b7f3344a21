package transform

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/YASSERRMD/naseejmesh/internal/logging"
)

// registerBuiltins installs the helper modules every script can use:
// JSON, case conversion, XML wrapping, timestamps, identifiers, logging
// and unit conversions. Each builtin call debits the operation budget.
func registerBuiltins(L *lua.LState) {
	jsonMod := L.NewTable()
	L.SetField(jsonMod, "encode", L.NewFunction(builtinJSONEncode))
	L.SetField(jsonMod, "decode", L.NewFunction(builtinJSONDecode))
	L.SetGlobal("json", jsonMod)

	strMod := L.NewTable()
	L.SetField(strMod, "upper", L.NewFunction(builtinUpper))
	L.SetField(strMod, "lower", L.NewFunction(builtinLower))
	L.SetField(strMod, "trim", L.NewFunction(builtinTrim))
	L.SetGlobal("str", strMod)

	xmlMod := L.NewTable()
	L.SetField(xmlMod, "wrap", L.NewFunction(builtinXMLWrap))
	L.SetField(xmlMod, "escape", L.NewFunction(builtinXMLEscape))
	L.SetGlobal("xmlutil", xmlMod)

	logMod := L.NewTable()
	L.SetField(logMod, "debug", L.NewFunction(builtinLogDebug))
	L.SetField(logMod, "info", L.NewFunction(builtinLogInfo))
	L.SetField(logMod, "warn", L.NewFunction(builtinLogWarn))
	L.SetGlobal("log", logMod)

	convMod := L.NewTable()
	L.SetField(convMod, "c_to_f", L.NewFunction(builtinCToF))
	L.SetField(convMod, "f_to_c", L.NewFunction(builtinFToC))
	L.SetField(convMod, "km_to_mi", L.NewFunction(builtinKmToMi))
	L.SetField(convMod, "mi_to_km", L.NewFunction(builtinMiToKm))
	L.SetGlobal("convert", convMod)

	L.SetGlobal("now_iso", L.NewFunction(builtinNowISO))
	L.SetGlobal("timestamp_ms", L.NewFunction(builtinTimestampMS))
	L.SetGlobal("uuid", L.NewFunction(builtinUUID))
}

func builtinJSONEncode(L *lua.LState) int {
	debit(L)
	v := L.CheckAny(1)
	gv, err := fromLua(v, DefaultLimits, budgetOf(L), 0)
	if err != nil {
		L.RaiseError("json.encode: %s", err.Error())
		return 0
	}
	data, err := json.Marshal(gv)
	if err != nil {
		L.RaiseError("json.encode: %s", err.Error())
		return 0
	}
	L.Push(lua.LString(data))
	return 1
}

func builtinJSONDecode(L *lua.LState) int {
	debit(L)
	s := L.CheckString(1)
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		L.RaiseError("json.decode: %s", err.Error())
		return 0
	}
	lv, err := toLua(L, v, DefaultLimits, budgetOf(L), 0)
	if err != nil {
		L.RaiseError("json.decode: %s", err.Error())
		return 0
	}
	L.Push(lv)
	return 1
}

func builtinUpper(L *lua.LState) int {
	debit(L)
	L.Push(lua.LString(strings.ToUpper(L.CheckString(1))))
	return 1
}

func builtinLower(L *lua.LState) int {
	debit(L)
	L.Push(lua.LString(strings.ToLower(L.CheckString(1))))
	return 1
}

func builtinTrim(L *lua.LState) int {
	debit(L)
	L.Push(lua.LString(strings.TrimSpace(L.CheckString(1))))
	return 1
}

func builtinXMLWrap(L *lua.LState) int {
	debit(L)
	tag := L.CheckString(1)
	content := L.CheckString(2)
	L.Push(lua.LString("<" + tag + ">" + escapeXML(content) + "</" + tag + ">"))
	return 1
}

func builtinXMLEscape(L *lua.LState) int {
	debit(L)
	L.Push(lua.LString(escapeXML(L.CheckString(1))))
	return 1
}

func escapeXML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}

func builtinNowISO(L *lua.LState) int {
	debit(L)
	L.Push(lua.LString(time.Now().UTC().Format(time.RFC3339)))
	return 1
}

func builtinTimestampMS(L *lua.LState) int {
	debit(L)
	L.Push(lua.LNumber(time.Now().UnixMilli()))
	return 1
}

func builtinUUID(L *lua.LState) int {
	debit(L)
	L.Push(lua.LString(uuid.NewString()))
	return 1
}

func builtinLogDebug(L *lua.LState) int {
	debit(L)
	logging.Debug("transform_log", zap.String("message", L.CheckString(1)))
	return 0
}

func builtinLogInfo(L *lua.LState) int {
	debit(L)
	logging.Info("transform_log", zap.String("message", L.CheckString(1)))
	return 0
}

func builtinLogWarn(L *lua.LState) int {
	debit(L)
	logging.Warn("transform_log", zap.String("message", L.CheckString(1)))
	return 0
}

func builtinCToF(L *lua.LState) int {
	debit(L)
	L.Push(lua.LNumber(float64(L.CheckNumber(1))*9/5 + 32))
	return 1
}

func builtinFToC(L *lua.LState) int {
	debit(L)
	L.Push(lua.LNumber((float64(L.CheckNumber(1)) - 32) * 5 / 9))
	return 1
}

func builtinKmToMi(L *lua.LState) int {
	debit(L)
	L.Push(lua.LNumber(float64(L.CheckNumber(1)) * 0.621371))
	return 1
}

func builtinMiToKm(L *lua.LState) int {
	debit(L)
	L.Push(lua.LNumber(float64(L.CheckNumber(1)) / 0.621371))
	return 1
}
