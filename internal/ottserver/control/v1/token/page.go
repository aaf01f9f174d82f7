package token

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// 内置令牌提交页。带?token=参数访问时输入框预填令牌值，
// 用户确认后POST到兑换路径。html/template负责转义，查询参数进不了标签。
const submitPageTemplate = `<!DOCTYPE html>
<html lang="zh">
<head>
<meta charset="utf-8">
<title>一次性令牌登录</title>
<style>
body{font-family:sans-serif;display:flex;justify-content:center;margin-top:10vh}
form{display:flex;flex-direction:column;gap:12px;min-width:280px}
input,button{padding:8px;font-size:14px}
</style>
</head>
<body>
<form method="post" action="{{.Action}}">
<h2>一次性令牌登录</h2>
<label for="token">令牌</label>
<input type="text" id="token" name="token" value="{{.Token}}" autocomplete="off">
<button type="submit">登录</button>
</form>
</body>
</html>
`

var submitPage = template.Must(template.New("ott-submit").Parse(submitPageTemplate))

// SubmitPage 渲染内置令牌提交页(GET 兑换路径)。
func (t *TokenController) SubmitPage(ctx *gin.Context) {
	data := map[string]string{
		"Action": t.options.TokenOptions.LoginProcessingURL,
		"Token":  ctx.Query("token"),
	}

	ctx.Header("Content-Type", "text/html; charset=utf-8")
	ctx.Status(http.StatusOK)
	if err := submitPage.Execute(ctx.Writer, data); err != nil {
		log.L(ctx).Errorf("令牌提交页渲染失败: %v", err)
	}
}
