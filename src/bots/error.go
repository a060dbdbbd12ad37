package bots

import "errors"

// ErrBotExist 表示该账户已经有正在运行的机器人。
var ErrBotExist = errors.New("该账户已经存在机器人")

// ErrBotNotExist 表示该账户没有机器人。
var ErrBotNotExist = errors.New("该账户没有机器人")
