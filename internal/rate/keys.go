package rate

func loginUserKey(identifier string) string { return "al:" + identifier }

func loginIPKey(ip string) string { return "ali:" + ip }

func lockoutKey(identifier string) string { return "alk:" + identifier }

func refreshKey(sessionID string) string { return "ar:" + sessionID }
