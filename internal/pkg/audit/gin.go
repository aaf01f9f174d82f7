package audit

import "github.com/gin-gonic/gin"

// GinContextKey 是Manager在gin.Context里的存放键。服务端在引擎级中间件
// 注入一次, 控制器层通过FromGinContext取用, 不用把Manager穿透每层构造函数。
const GinContextKey = "__audit_manager"

func InjectToGinContext(c *gin.Context, mgr *Manager) {
	if c == nil || mgr == nil {
		return
	}
	c.Set(GinContextKey, mgr)
}

// FromGinContext 取不到或类型不符时返回nil, 调用方按审计未启用处理。
func FromGinContext(c *gin.Context) *Manager {
	if c == nil {
		return nil
	}
	if v, ok := c.Get(GinContextKey); ok {
		if mgr, ok := v.(*Manager); ok {
			return mgr
		}
	}
	return nil
}
