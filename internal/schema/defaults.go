package schema

// DefaultRegistry returns the collections of the workshop application.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&Collection{
			Name: "clients",
			Fields: map[string]Field{
				"name":     {Kind: KindString, Required: true},
				"email":    {Kind: KindString},
				"phone":    {Kind: KindString},
				"document": {Kind: KindString},
			},
		},
		&Collection{
			Name: "vehicles",
			Fields: map[string]Field{
				"client_id": {Kind: KindRef, Ref: "clients", Required: true},
				"plate":     {Kind: KindString, Required: true},
				"brand":     {Kind: KindString},
				"model":     {Kind: KindString},
				"year":      {Kind: KindInteger},
			},
		},
		&Collection{
			Name: "technicians",
			Fields: map[string]Field{
				"name":      {Kind: KindString, Required: true},
				"specialty": {Kind: KindString},
				"active":    {Kind: KindBool},
			},
		},
		&Collection{
			Name:    "service_types",
			APIPath: "/api/service-types",
			Fields: map[string]Field{
				"name":       {Kind: KindString, Required: true},
				"base_price": {Kind: KindNumber},
			},
		},
		&Collection{
			Name: "services",
			Fields: map[string]Field{
				"client_id":       {Kind: KindRef, Ref: "clients"},
				"vehicle_id":      {Kind: KindRef, Ref: "vehicles"},
				"technician_id":   {Kind: KindRef, Ref: "technicians"},
				"service_type_id": {Kind: KindRef, Ref: "service_types"},
				"status":          {Kind: KindString},
				"description":     {Kind: KindString},
				"price":           {Kind: KindNumber},
				"date":            {Kind: KindTimestamp},
			},
		},
		&Collection{
			Name: "budgets",
			Fields: map[string]Field{
				"client_id":   {Kind: KindRef, Ref: "clients"},
				"vehicle_id":  {Kind: KindRef, Ref: "vehicles"},
				"status":      {Kind: KindString},
				"total":       {Kind: KindNumber},
				"valid_until": {Kind: KindTimestamp},
			},
		},
	)
}
